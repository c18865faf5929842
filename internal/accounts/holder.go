package accounts

import "sync"

// Holder keeps the account signed in on a device.
type Holder struct {
	mu      sync.RWMutex
	account *Account
}

// NewHolder returns a holder, optionally seeded with an account.
func NewHolder(account *Account) *Holder {
	holder := &Holder{}
	if account != nil {
		holder.Set(*account)
	}
	return holder
}

// Set replaces the current account.
func (h *Holder) Set(account Account) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.account = &account
}

// Clear signs the account out.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.account = nil
}

// Current returns the signed-in account.
func (h *Holder) Current() (Account, bool) {
	if h == nil {
		return Account{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.account == nil {
		return Account{}, false
	}
	return *h.account, true
}
