package handlers

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// DefaultAuthorizationValidity is how long an idTag accepted by the default
// authorizer stays valid in the station's cache.
const DefaultAuthorizationValidity = 5 * time.Minute

// Authorizer decides the idTagInfo returned for Authorize, StartTransaction
// and StopTransaction.
type Authorizer interface {
	Authorize(clientID, idTag string) *types.IdTagInfo
}

// AcceptAllAuthorizer accepts every idTag with a fixed validity.
type AcceptAllAuthorizer struct {
	Validity time.Duration
	now      func() time.Time
}

func NewAcceptAllAuthorizer() *AcceptAllAuthorizer {
	return &AcceptAllAuthorizer{Validity: DefaultAuthorizationValidity, now: time.Now}
}

func (a *AcceptAllAuthorizer) Authorize(_, _ string) *types.IdTagInfo {
	info := types.NewIdTagInfo(types.AuthorizationStatusAccepted)
	info.ExpiryDate = types.NewDateTime(a.now().Add(a.Validity))
	return info
}

// LocalListAuthorizer answers from a static list; unknown tags are Invalid.
type LocalListAuthorizer struct {
	Entries  map[string]types.AuthorizationStatus
	Validity time.Duration
	now      func() time.Time
}

func NewLocalListAuthorizer(entries map[string]types.AuthorizationStatus) *LocalListAuthorizer {
	return &LocalListAuthorizer{Entries: entries, Validity: DefaultAuthorizationValidity, now: time.Now}
}

func (a *LocalListAuthorizer) Authorize(_, idTag string) *types.IdTagInfo {
	status, ok := a.Entries[idTag]
	if !ok {
		status = types.AuthorizationStatusInvalid
	}
	info := types.NewIdTagInfo(status)
	if status == types.AuthorizationStatusAccepted {
		info.ExpiryDate = types.NewDateTime(a.now().Add(a.Validity))
	}
	return info
}
