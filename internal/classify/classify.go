// Package classify maps raw console text to a semantic message category.
//
// Classification is a pure function over the input text: ordered keyword
// rules, first match wins, fixed precedence auth > chat > save > error >
// kill > player > system. The web layer relies on the categories for
// filtering, so determinism matters more than cleverness here.
package classify

import (
	"strings"

	"github.com/wdc-gp/gustlink"
)

// Default marker lists. All matching is case-insensitive substring search.
var (
	// DefaultAuthMarkers are the privileged-role markers; a console line
	// mentioning one of them records a role grant or admin action.
	DefaultAuthMarkers = []string{"[owner]", "[moderator]", "[admin]", "granted", "moderatorid", "ownerid"}

	chatMarkers  = []string{"[chat]", "[team]", "[chat local]"}
	saveMarkers  = []string{"saving", "saved ", "save complete", "savecycle"}
	errorMarkers = []string{"error", "exception", "failed", "failure"}
	killMarkers  = []string{"was killed", "killed by", "died", "death", "suicide"}
	playerMarkers = []string{
		"connected", "disconnected", "joined", "left the server",
		"joining", "connecting", "disconnecting",
	}
)

// Classifier assigns categories using ordered first-match rules.
// The zero value is not usable; call New.
type Classifier struct {
	authMarkers []string
}

// New returns a classifier with the given privileged-role markers.
// Passing nil keeps DefaultAuthMarkers.
func New(authMarkers []string) *Classifier {
	if authMarkers == nil {
		authMarkers = DefaultAuthMarkers
	}
	lowered := make([]string, len(authMarkers))
	for i, m := range authMarkers {
		lowered[i] = strings.ToLower(m)
	}
	return &Classifier{authMarkers: lowered}
}

// Classify returns the category for raw console text.
//
// Precedence is fixed: auth > chat > save > error > kill > player > system.
// "system" is the total-function fallback, so every input maps to exactly
// one category.
func (c *Classifier) Classify(text string) gustlink.Category {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, c.authMarkers):
		return gustlink.CategoryAuth
	case containsAny(lower, chatMarkers) || strings.Contains(text, ": "):
		return gustlink.CategoryChat
	case containsAny(lower, saveMarkers):
		return gustlink.CategorySave
	case containsAny(lower, errorMarkers):
		return gustlink.CategoryError
	case containsAny(lower, killMarkers):
		return gustlink.CategoryKill
	case containsAny(lower, playerMarkers):
		return gustlink.CategoryPlayer
	}
	return gustlink.CategorySystem
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
