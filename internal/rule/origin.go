package rule

import "strconv"

// OriginKind identifies which rule table a rule was loaded from.
type OriginKind string

const (
	// OriginGlobal marks rules from the shared pricing rule table.
	OriginGlobal OriginKind = "global"
	// OriginCustomer marks rules from a customer's own rule set.
	OriginCustomer OriginKind = "customer"
)

// Origin is the identity of a rule together with the table it belongs to.
// An ID of zero means the rule has not been stored yet.
type Origin struct {
	Kind OriginKind
	ID   int64
}

// Global returns the origin of a shared pricing rule.
func Global(id int64) Origin {
	return Origin{Kind: OriginGlobal, ID: id}
}

// CustomerSpecific returns the origin of a rule owned by a single customer.
func CustomerSpecific(id int64) Origin {
	return Origin{Kind: OriginCustomer, ID: id}
}

// GlobalID returns the shared rule id when the origin refers to a stored global rule.
func (o Origin) GlobalID() (int64, bool) {
	if o.Kind != OriginGlobal || o.ID <= 0 {
		return 0, false
	}
	return o.ID, true
}

// CustomerRuleID returns the customer rule id when the origin refers to a stored customer rule.
func (o Origin) CustomerRuleID() (int64, bool) {
	if o.Kind != OriginCustomer || o.ID <= 0 {
		return 0, false
	}
	return o.ID, true
}

func (o Origin) String() string {
	kind := o.Kind
	if kind == "" {
		kind = OriginGlobal
	}
	if o.ID <= 0 {
		return string(kind) + ":unsaved"
	}
	return string(kind) + ":" + strconv.FormatInt(o.ID, 10)
}
