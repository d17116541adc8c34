package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arcnode/arcproxy/httpconn"
	"github.com/arcnode/arcproxy/httpx"
	"github.com/arcnode/arcproxy/netx"
	"github.com/arcnode/arcproxy/rdp"
)

// Handler answers proxied requests arriving over the overlay: it rebuilds
// the HTTP request, streams its body in via a payload receiver, forwards
// the exchange to the local upstream and publishes the response body under
// the same transfer id.
type Handler struct {
	transport rdp.Transport
	upstream  httpconn.Handler
	log       *logrus.Entry
}

func NewHandler(t rdp.Transport, upstream httpconn.Handler) *Handler {
	return &Handler{
		transport: t,
		upstream:  upstream,
		log:       logrus.WithField("local", t.LocalID()),
	}
}

// Attach subscribes the handler to incoming proxied requests.
func (h *Handler) Attach() {
	h.transport.SubscribeQuery(rdp.HTTPRequestPrefix(), h.HandleQuery)
}

func (h *Handler) Detach() {
	h.transport.UnsubscribeQuery(rdp.HTTPRequestPrefix())
}

func (h *Handler) HandleQuery(ctx context.Context, src rdp.ShortID, data []byte) ([]byte, error) {
	msg, err := rdp.ParseHTTPRequestMsg(data)
	if err != nil {
		return nil, err
	}

	req, err := requestFromWire(msg)
	if err != nil {
		return nil, err
	}

	if req.IsConnect() {
		return h.handleConnect(src, msg, req)
	}

	body, err := req.CreateEmptyPayload()
	if err != nil {
		return nil, err
	}
	if req.NeedPayload() {
		go RunPayloadReceiver(context.Background(), h.transport, src, msg.ID, body, false)
	}

	resp, payload, err := h.upstream.ReceiveRequest(ctx, req, body)
	if err != nil {
		body.SetError()
		h.log.WithError(err).Info("upstream request failed")
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	noPayload := !resp.NeedPayload() || payload.Kind() == httpx.PayloadEmpty
	if !noPayload {
		NewPayloadSender(h.transport, msg.ID, payload, false, nil)
	}

	out := &rdp.HTTPResponseMsg{
		Proto:     resp.Proto(),
		Code:      resp.Code(),
		Reason:    resp.Reason(),
		Headers:   resp.WireHeaders(),
		NoPayload: noPayload,
	}
	return out.Serialize(), nil
}

// handleConnect opens a raw TCP tunnel to the CONNECT target and bridges it
// to the transfer protocol.
func (h *Handler) handleConnect(src rdp.ShortID, msg *rdp.HTTPRequestMsg, req *httpx.Request) ([]byte, error) {
	target := req.Host()
	if target == "" {
		target = req.URL()
	}
	if !strings.Contains(target, ":") {
		target += ":443"
	}

	conn, err := netx.Dial("tcp", target)
	if err != nil {
		h.log.WithError(err).WithField("target", target).Info("tunnel dial failed")
		return nil, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	StartTCPTunnel(h.transport, src, msg.ID, conn)
	h.log.WithField("target", target).Info("tunnel established")

	out := &rdp.HTTPResponseMsg{
		Proto:  "HTTP/1.0",
		Code:   200,
		Reason: "Connection Established",
	}
	return out.Serialize(), nil
}

func requestFromWire(msg *rdp.HTTPRequestMsg) (*httpx.Request, error) {
	req, err := httpx.NewRequest(msg.Method, msg.URL, msg.Proto)
	if err != nil {
		return nil, err
	}
	for _, h := range msg.Headers {
		if err := req.AddHeader(h); err != nil {
			return nil, err
		}
	}
	if err := req.CompleteParseHeader(); err != nil {
		return nil, err
	}
	return req, nil
}
