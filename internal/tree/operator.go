package tree

import "strings"

// Operator is the comparison a Part applies to its property.
type Operator string

const (
	Between                Operator = "BETWEEN"
	IsNotNull              Operator = "IS_NOT_NULL"
	IsNull                 Operator = "IS_NULL"
	LessThan               Operator = "LESS_THAN"
	LessThanEqual          Operator = "LESS_THAN_EQUAL"
	GreaterThan            Operator = "GREATER_THAN"
	GreaterThanEqual       Operator = "GREATER_THAN_EQUAL"
	Before                 Operator = "BEFORE"
	After                  Operator = "AFTER"
	NotLike                Operator = "NOT_LIKE"
	Like                   Operator = "LIKE"
	StartingWith           Operator = "STARTING_WITH"
	EndingWith             Operator = "ENDING_WITH"
	IsNotEmpty             Operator = "IS_NOT_EMPTY"
	IsEmpty                Operator = "IS_EMPTY"
	NotContaining          Operator = "NOT_CONTAINING"
	Containing             Operator = "CONTAINING"
	NotIn                  Operator = "NOT_IN"
	In                     Operator = "IN"
	Near                   Operator = "NEAR"
	Within                 Operator = "WITHIN"
	Regex                  Operator = "REGEX"
	Exists                 Operator = "EXISTS"
	True                   Operator = "TRUE"
	False                  Operator = "FALSE"
	NegatingSimpleProperty Operator = "NEGATING_SIMPLE_PROPERTY"
	SimpleProperty         Operator = "SIMPLE_PROPERTY"
)

type operatorSpec struct {
	op       Operator
	args     int
	keywords []string // longest first
}

// operators is in matching order: a property text is tested against each
// operator's keywords as a suffix and the first hit wins, so the negated and
// longer forms precede the plain ones.
var operators = []operatorSpec{
	{Between, 2, []string{"IsBetween", "Between"}},
	{IsNotNull, 0, []string{"IsNotNull", "NotNull"}},
	{IsNull, 0, []string{"IsNull", "Null"}},
	{LessThan, 1, []string{"IsLessThan", "LessThan"}},
	{LessThanEqual, 1, []string{"IsLessThanEqual", "LessThanEqual"}},
	{GreaterThan, 1, []string{"IsGreaterThan", "GreaterThan"}},
	{GreaterThanEqual, 1, []string{"IsGreaterThanEqual", "GreaterThanEqual"}},
	{Before, 1, []string{"IsBefore", "Before"}},
	{After, 1, []string{"IsAfter", "After"}},
	{NotLike, 1, []string{"IsNotLike", "NotLike"}},
	{Like, 1, []string{"IsLike", "Like"}},
	{StartingWith, 1, []string{"IsStartingWith", "StartingWith", "StartsWith"}},
	{EndingWith, 1, []string{"IsEndingWith", "EndingWith", "EndsWith"}},
	{IsNotEmpty, 0, []string{"IsNotEmpty", "NotEmpty"}},
	{IsEmpty, 0, []string{"IsEmpty", "Empty"}},
	{NotContaining, 1, []string{"IsNotContaining", "NotContaining", "NotContains"}},
	{Containing, 1, []string{"IsContaining", "Containing", "Contains"}},
	{NotIn, 1, []string{"IsNotIn", "NotIn"}},
	{In, 1, []string{"IsIn", "In"}},
	{Near, 1, []string{"IsNear", "Near"}},
	{Within, 1, []string{"IsWithin", "Within"}},
	{Regex, 1, []string{"MatchesRegex", "Matches", "Regex"}},
	{Exists, 0, []string{"Exists"}},
	{True, 0, []string{"IsTrue", "True"}},
	{False, 0, []string{"IsFalse", "False"}},
	{NegatingSimpleProperty, 1, []string{"IsNot", "Not"}},
	{SimpleProperty, 1, []string{"Is", "Equals"}},
}

var (
	byOperator = map[Operator]operatorSpec{}
	byKeyword  = map[string]Operator{}
)

func init() {
	for _, spec := range operators {
		byOperator[spec.op] = spec
		for _, kw := range spec.keywords {
			byKeyword[kw] = spec.op
		}
	}
}

// NumArgs returns how many bindable arguments the operator consumes.
func (o Operator) NumArgs() int { return byOperator[o].args }

// Keywords returns the method-name keywords that select the operator.
func (o Operator) Keywords() []string { return byOperator[o].keywords }

// TakesCollection reports whether the operator's single argument must be a
// collection.
func (o Operator) TakesCollection() bool { return o == In || o == NotIn }

// IsLike reports whether the operator renders as a LIKE comparison on
// scalar properties.
func (o Operator) IsLike() bool {
	switch o {
	case Like, NotLike, StartingWith, EndingWith, Containing, NotContaining:
		return true
	}
	return false
}

// OperatorForKeyword maps a keyword to its operator. The empty keyword is
// the plain equality.
func OperatorForKeyword(keyword string) (Operator, bool) {
	if keyword == "" {
		return SimpleProperty, true
	}
	op, ok := byKeyword[keyword]
	return op, ok
}

// splitKeyword separates a part's property text from its operator keyword.
// The keyword is "" when no operator suffix matches.
func splitKeyword(part string) (property, keyword string) {
	for _, spec := range operators {
		for _, kw := range spec.keywords {
			if strings.HasSuffix(part, kw) && len(part) > len(kw) {
				return part[:len(part)-len(kw)], kw
			}
		}
	}
	return part, ""
}
