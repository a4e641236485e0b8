package models

// ClaimRequest is the message carried by the asynchronous claim transport.
type ClaimRequest struct {
	CorrelationID string `cbor:"correlationId" json:"correlationId"`
	HeritageID    int64  `cbor:"heritageId" json:"heritageId"`
	UserID        int64  `cbor:"userId" json:"userId"`
	ReplyTo       string `cbor:"replyTo" json:"replyTo"`
}

// ClaimReply answers a ClaimRequest. Item is nil when nothing was claimed.
// Failed marks a request the worker could not evaluate at all.
type ClaimReply struct {
	CorrelationID string        `cbor:"correlationId" json:"correlationId"`
	Item          *HeritageItem `cbor:"item,omitempty" json:"item,omitempty"`
	Failed        bool          `cbor:"failed,omitempty" json:"failed,omitempty"`
	Error         string        `cbor:"error,omitempty" json:"error,omitempty"`
}
