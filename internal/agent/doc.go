// Package agent models the council participants. Each participant wraps a
// language-model client, produces discussion statements that may carry trade
// directives, and casts threshold votes on pending proposals.
package agent
