package invoice

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// moneyPattern matches one or more digits, optionally followed by a
	// decimal point and 1-2 digits: "500", "500.5", "500.50".
	moneyPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidateItem reports whether a line item's fields are acceptable. Pure
// predicate with no error detail: the UI only needs an aggregate
// enabled/disabled state.
func ValidateItem(description, quantity, price, total string) bool {
	q, err := strconv.Atoi(quantity)
	return strings.TrimSpace(description) != "" &&
		err == nil &&
		q > 0 &&
		moneyPattern.MatchString(price) &&
		moneyPattern.MatchString(total)
}

// ValidateDraft reports whether a whole draft is ready for submission.
func ValidateDraft(d Draft) bool {
	if d.InvoiceNumber == "" || d.Vendor == "" || d.ImagePreview == "" {
		return false
	}
	if len(d.Items) == 0 {
		return false
	}
	if !datePattern.MatchString(d.InvoiceDate) {
		return false
	}
	if !moneyPattern.MatchString(d.Total) {
		return false
	}
	total, err := strconv.ParseFloat(d.Total, 64)
	return err == nil && total > 0
}
