package segmentation

import (
	"fmt"
	"strings"
	"time"
)

const filterPromptTemplate = `You translate plain-language descriptions of a customer audience into a filter document.
Return a single JSON object in a MongoDB-style filter dialect using only these fields:

Fields:
- firstName (string)
- lastName (string)
- email (string)
- phone (string)
- createdAt (date, ISO 8601)
- totalSpent (number)
- preferredCategory (string)
- preferredDay (string)
- preferredChannel (string)
- lastOrder (date, ISO 8601)
- orders (number of orders; compare it like a number or use $size)

Rules:
1. Use only these operators: %s
2. Order counts: {"orders": {"$gte": 2}} or {"orders": {"$size": 3}}.
3. Name and email matching: "$regex" with the "i" option.
4. Dates are strings: "2024-01-31" or "2024-01-31T00:00:00Z". Today is %s.
5. Return only the raw JSON object. No markdown, no code fences, no explanation.
6. Never produce updates, deletes, aggregation stages or anything other than a filter.

Examples:

Prompt: "Users who spent exactly $100"
{"totalSpent": {"$eq": 100}}

Prompt: "Customers with between 2 and 5 orders"
{"orders": {"$gte": 2, "$lte": 5}}

Prompt: "Non-Gmail users who haven't ordered since 2023"
{"email": {"$not": {"$regex": "@gmail\\.com$", "$options": "i"}}, "lastOrder": {"$lt": "2023-01-01"}}

Prompt: "Users with no preferred category set"
{"preferredCategory": {"$exists": false}}

Prompt: "Users who shop on weekends"
{"preferredDay": {"$in": ["Saturday", "Sunday"]}}

Prompt: "High spenders with an email but no phone"
{"totalSpent": {"$gt": 1000}, "email": {"$exists": true}, "phone": {"$exists": false}}

Prompt: "Users who joined in the last 30 days with at least one order"
{"createdAt": {"$gte": "%s"}, "orders": {"$gte": 1}}

Prompt: "Users who prefer SMS or WhatsApp"
{"$or": [{"preferredChannel": "SMS"}, {"preferredChannel": "WhatsApp"}]}
`

const describePrompt = `You explain customer segment rules to marketers.
Given a JSON filter over customer records, write 2-3 short plain-language sentences describing who is in the segment.
Do not mention JSON, operators or field names verbatim. Return only the sentences.`

// FilterSystemPrompt renders the translation instruction for the given day.
func FilterSystemPrompt(now time.Time) string {
	ops := AllowedOperators()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	today := now.UTC().Format("2006-01-02")
	monthAgo := now.UTC().AddDate(0, 0, -30).Format("2006-01-02")
	return fmt.Sprintf(filterPromptTemplate, strings.Join(names, ", "), today, monthAgo)
}

// DescribeSystemPrompt is the instruction used to summarise a rule.
func DescribeSystemPrompt() string { return describePrompt }
