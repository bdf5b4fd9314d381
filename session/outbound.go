// Package session implements the Session Facade (C8) together with the two
// engines that share its event loop and outbound serializer: the Command
// Engine (C5) and the Parameter Engine (C6).
package session

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"mavgateway/timer"
)

// OutboundPort is the capability the Command and Parameter engines see of
// the facade: send a message, and operate the timer wheel. This is the
// re-architecture hint of spec.md §9 applied — engines hold this interface
// instead of a back-pointer to the facade.
type OutboundPort interface {
	SendMessage(msg message.Message) bool
	RegisterTimeout(callback func(), after time.Duration) timer.Cookie
	RegisterPeriodic(callback func(), period time.Duration) timer.Cookie
	RefreshTimer(cookie timer.Cookie)
	UnregisterTimer(cookie timer.Cookie)
	TargetSystemID() byte
	TargetComponentID() byte
}
