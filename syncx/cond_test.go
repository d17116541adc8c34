package syncx

import "testing"

func TestCondBoolSetGet(t *testing.T) {
	t.Parallel()

	cond := NewCondBool()
	if cond.Get() {
		t.Fatal("expected false")
	}
	cond.Set(true)
	if !cond.Get() {
		t.Fatal("expected true")
	}
}

func TestCondBoolWait(t *testing.T) {
	t.Parallel()

	cond := NewCondBool()
	if cond.Get() {
		t.Fatal("expected false")
	}
	go func() {
		cond.Set(true)
	}()
	cond.Wait()
	if !cond.Get() {
		t.Fatal("expected true")
	}
}

func TestCondBoolWaitAlreadyTrue(t *testing.T) {
	t.Parallel()

	cond := NewCondBool()
	if cond.Get() {
		t.Fatal("expected false")
	}
	cond.Set(true)
	cond.Wait()
	if !cond.Get() {
		t.Fatal("expected true")
	}
}

func TestCondBoolRace(t *testing.T) {
	t.Parallel()

	cond := NewCondBool()
	if cond.Get() {
		t.Fatal("expected false")
	}
	go func() {
		cond.Set(true)
	}()
	go func() {
		cond.Set(true)
	}()
	cond.Wait()
	if !cond.Get() {
		t.Fatal("expected true")
	}
}
