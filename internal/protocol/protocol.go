// Package protocol defines the text wire protocol spoken over the duplex
// connection: inbound commands and the JSON response envelope.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// Inbound commands.
const (
	CmdRegister  = "register"
	CmdContinue  = "continue"
	CmdFR        = "FR"
	CmdMarkOther = "mark_other"
	CmdClose     = "close"
	CmdPing      = "ping"

	// Legacy FIFO-queue protocol, answered with the two-field envelope.
	CmdFetch  = "fetch"
	CmdDelete = "delete"
)

// Response status families.
const (
	StatusDelivered   = 200 // code delivered
	StatusNoContent   = 204 // no code available
	StatusClientError = 400 // client error, disambiguated by Sub
	StatusForbidden   = 403 // forbidden payload
	StatusPing        = 101 // ping acknowledgement
)

// Sub-codes disambiguating client errors.
const (
	SubNone              = 0
	SubRegisterRequired  = 1
	SubMalformedRegister = 2
	SubNothingServed     = 3
	SubPasswordRequired  = 4
	SubRegisterTimeout   = 5
	SubPasswordIncorrect = 6
	SubMissingVersionTag = 7
	SubUpgradeRequired   = 8
)

// Response is the current three-field envelope.
type Response struct {
	Status int    `json:"status"`
	Sub    int    `json:"sub"`
	Body   string `json:"body"`
}

// LegacyResponse is the superseded fetch/delete envelope, kept for older
// clients.
type LegacyResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Register parse failures, mapped to sub-codes by the session.
var (
	ErrMalformedRegister = errors.New("malformed register request")
	ErrMissingVersionTag = errors.New("missing protocol version tag")
)

// RegisterRequest is a parsed register command.
type RegisterRequest struct {
	Version  int    // numeric client version, checked against the configured minimum
	Tag      string // free-form protocol tag after the underscore
	Password string // empty when the three-field form was used
	ClientID string // raw client-supplied identifier
}

// ParseRegister parses "register <ver>_<tag> [password] <clientId>".
func ParseRegister(msg string) (RegisterRequest, error) {
	fields := strings.Fields(msg)
	if len(fields) < 3 || len(fields) > 4 || fields[0] != CmdRegister {
		return RegisterRequest{}, ErrMalformedRegister
	}

	verStr, tag, found := strings.Cut(fields[1], "_")
	if !found || tag == "" {
		return RegisterRequest{}, ErrMissingVersionTag
	}
	version, err := strconv.Atoi(verStr)
	if err != nil {
		return RegisterRequest{}, ErrMalformedRegister
	}

	req := RegisterRequest{Version: version, Tag: tag, ClientID: fields[len(fields)-1]}
	if len(fields) == 4 {
		req.Password = fields[2]
	}
	return req, nil
}
