package httpx

// WireHeaders is the header set that crosses the overlay: the retained
// headers plus the synthesized Connection header, mirroring StoreHTTP.
func (r *Request) WireHeaders() []Header {
	headers := make([]Header, 0, len(r.options)+1)
	headers = append(headers, r.options...)
	if r.keepAlive {
		headers = append(headers, Header{Name: "Connection", Value: "Keep-Alive"})
	} else {
		headers = append(headers, Header{Name: "Connection", Value: "Close"})
	}
	return headers
}

func (r *Response) WireHeaders() []Header {
	headers := make([]Header, 0, len(r.options)+1)
	headers = append(headers, r.options...)
	if r.keepAlive {
		headers = append(headers, Header{Name: "Connection", Value: "Keep-Alive"})
	} else {
		headers = append(headers, Header{Name: "Connection", Value: "Close"})
	}
	return headers
}
