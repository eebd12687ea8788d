package gustlink

// Category is the semantic class assigned to a console message.
type Category string

// Console message categories, in classification precedence order.
// The classifier applies ordered first-match rules:
// auth > chat > save > error > kill > player > system.
const (
	// CategoryAuth marks messages mentioning a privileged role grant.
	CategoryAuth Category = "auth"
	// CategoryChat marks in-game chat lines.
	CategoryChat Category = "chat"
	// CategorySave marks world-save activity.
	CategorySave Category = "save"
	// CategoryError marks errors, exceptions and failures.
	CategoryError Category = "error"
	// CategoryKill marks kill/death events.
	CategoryKill Category = "kill"
	// CategoryPlayer marks player connect/disconnect events.
	CategoryPlayer Category = "player"
	// CategorySystem is the fallback for everything else.
	CategorySystem Category = "system"
)

// Categories lists every category the classifier can produce.
func Categories() []Category {
	return []Category{
		CategoryAuth,
		CategoryChat,
		CategorySave,
		CategoryError,
		CategoryKill,
		CategoryPlayer,
		CategorySystem,
	}
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuth, CategoryChat, CategorySave, CategoryError,
		CategoryKill, CategoryPlayer, CategorySystem:
		return true
	}
	return false
}
