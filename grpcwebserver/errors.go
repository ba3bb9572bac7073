package grpcwebserver

import "github.com/pkg/errors"

// errHeaderAlreadySent is returned by ServerContext.SendInitialMetadata
// once the response header has already gone out.
var errHeaderAlreadySent = errors.New("grpcwebserver: initial metadata already sent")

// errUnaryExtraFrame is the protocol violation from spec.md §4.6 step 4:
// a unary-request method received more than one message frame.
var errUnaryExtraFrame = errors.New("grpcwebserver: unary request carried more than one message frame")

// errNoMessageFrame is reported when a unary request body contained no
// message frame at all.
var errNoMessageFrame = errors.New("grpcwebserver: unary request carried no message frame")
