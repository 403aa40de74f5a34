package auth

import (
	"strings"
)

// PolicyService decides which senders the bot answers. Sender ids are
// WhatsApp phone ids or Telegram user ids, compared as strings.
type PolicyService struct {
	AdminIDs   map[string]bool // map of admin sender IDs
	AllowedIDs map[string]bool // map of allowed sender IDs (if empty, all senders are allowed)
}

// NewPolicyService creates a new PolicyService from comma-separated id lists.
func NewPolicyService(adminIDsStr, allowedIDsStr string) *PolicyService {
	return &PolicyService{
		AdminIDs:   parseIDs(adminIDsStr),
		AllowedIDs: parseIDs(allowedIDsStr),
	}
}

func parseIDs(s string) map[string]bool {
	ids := make(map[string]bool)
	for _, idStr := range strings.Split(s, ",") {
		if id := normalize(idStr); id != "" {
			ids[id] = true
		}
	}
	return ids
}

// normalize drops surrounding spaces and a leading "+" so "+57 300..." style
// entries match the digits-only ids WhatsApp sends.
func normalize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "+")
	return strings.ReplaceAll(id, " ", "")
}

// IsAdmin checks if a sender is an admin.
func (p *PolicyService) IsAdmin(senderID string) bool {
	return p.AdminIDs[normalize(senderID)]
}

// IsAllowed checks if a sender may use the bot.
func (p *PolicyService) IsAllowed(senderID string) bool {
	// If the allowed list is empty, everyone is allowed
	if len(p.AllowedIDs) == 0 {
		return true
	}

	// Admins are always allowed
	if p.IsAdmin(senderID) {
		return true
	}

	return p.AllowedIDs[normalize(senderID)]
}
