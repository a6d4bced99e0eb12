package learning

import (
	"fmt"
	"strings"
)

// Label is one of the two classes. The numeric value is the class index.
type Label int

const (
	LabelNormal Label = 0
	LabelSpam   Label = 1
)

// Labels lists every class in index order.
var Labels = [...]Label{LabelNormal, LabelSpam}

func (l Label) String() string {
	switch l {
	case LabelNormal:
		return "normal"
	case LabelSpam:
		return "spam"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// IsSpam reports whether l is the spam class.
func (l Label) IsSpam() bool { return l == LabelSpam }

// ParseLabel accepts "spam", "normal" and the SMS corpus spelling "ham".
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spam":
		return LabelSpam, nil
	case "normal", "ham":
		return LabelNormal, nil
	default:
		return 0, fmt.Errorf("unknown label %q", s)
	}
}
