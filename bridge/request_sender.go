package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpconn"
	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/ratelimit"
	"github.com/arcnode/arcproxy/rdp"
)

const (
	// one request/response header round trip over the overlay
	RequestTimeout = 30 * time.Second

	maxResponseMsgSize = 16 << 10
)

// SendRequest carries one HTTP exchange to dst over the overlay: the
// request header travels in the query, the bodies stream as payload parts
// under a fresh transfer id (the request body served by a local sender, the
// response body pulled by a local receiver).
func SendRequest(ctx context.Context, t rdp.Transport, dst rdp.ShortID, req *httpx.Request, reqBody *httpx.Payload, limiter *ratelimit.Limiter) (*httpx.Response, *httpx.Payload, error) {
	id := rdp.NewTransferID()
	isTunnel := req.IsConnect()
	log := logrus.WithFields(logrus.Fields{"transfer": id, "peer": dst})

	sender := NewPayloadSender(t, id, reqBody, isTunnel, limiter)

	msg := &rdp.HTTPRequestMsg{
		ID:      id,
		Method:  req.Method(),
		URL:     req.URL(),
		Proto:   req.Proto(),
		Headers: req.WireHeaders(),
	}

	qctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	ans, err := t.SendQuery(qctx, dst, msg.Serialize(), maxResponseMsgSize)
	if err != nil {
		sender.Stop()
		reqBody.SetError()
		if errors.Is(err, context.DeadlineExceeded) || qctx.Err() != nil {
			return nil, nil, httpconn.ErrTimeout
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	rmsg, err := rdp.ParseHTTPResponseMsg(ans)
	if err != nil {
		sender.Stop()
		reqBody.SetError()
		return nil, nil, err
	}

	resp, err := httpx.NewResponse(rmsg.Proto, rmsg.Code, rmsg.Reason,
		req.NoPayloadInAnswer(), req.KeepAlive(), isTunnel && rmsg.Code == 200)
	if err != nil {
		sender.Stop()
		return nil, nil, err
	}
	for _, h := range rmsg.Headers {
		if err := resp.AddHeader(h); err != nil {
			sender.Stop()
			return nil, nil, err
		}
	}
	resp.CompleteParseHeader()

	payload, err := resp.CreateEmptyPayload()
	if err != nil {
		sender.Stop()
		return nil, nil, err
	}

	if rmsg.NoPayload || !resp.NeedPayload() {
		payload.CompleteParse()
	} else {
		go RunPayloadReceiver(context.Background(), t, dst, id, payload, resp.IsTunnel())
	}

	log.WithField("code", resp.Code()).Debug("overlay request answered")
	return resp, payload, nil
}
