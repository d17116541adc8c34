package bridge

import "errors"

// ErrTransfer marks a payload transfer that went out of protocol: seqno
// gaps, duplicate queries, stalled payloads. The transfer closes and the
// other endpoint observes a timeout.
var ErrTransfer = errors.New("transfer failed")
