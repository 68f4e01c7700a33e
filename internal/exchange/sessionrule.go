package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// SessionRule is a host-configured mock: requests matching Method and
// URL are answered synthetically instead of being dispatched upstream.
type SessionRule struct {
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Response SessionResponse `json:"response"`
}

// SessionResponse describes the synthetic response body for a matched
// SessionRule.
type SessionResponse struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
}

// SessionMarkerHeader is added to every response synthesized from a
// session rule so the host (or a curious client) can tell a mock
// apart from a real upstream response.
const SessionMarkerHeader = "x-kestrel-proxy-session"

// RuleSet holds a hot-swappable, atomically-read slice of SessionRule.
// Reads never take a lock; an Update publishes a new snapshot.
type RuleSet struct {
	rules atomic.Pointer[[]SessionRule]
}

// NewRuleSet returns an empty RuleSet.
func NewRuleSet() *RuleSet {
	rs := &RuleSet{}
	empty := []SessionRule{}
	rs.rules.Store(&empty)
	return rs
}

// Update atomically replaces the active rule set.
func (rs *RuleSet) Update(rules []SessionRule) {
	cp := make([]SessionRule, len(rules))
	copy(cp, rules)
	rs.rules.Store(&cp)
}

// Rules returns the currently active rule set.
func (rs *RuleSet) Rules() []SessionRule {
	p := rs.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Match scans the active rule set for the first rule whose method
// matches case-insensitively and whose URL is a substring match
// (either direction) against reqURL. Returns ok=false on no match,
// including when the rule set is empty.
func (rs *RuleSet) Match(method, reqURL string) (SessionRule, bool) {
	p := rs.rules.Load()
	if p == nil || len(*p) == 0 {
		return SessionRule{}, false
	}
	for _, rule := range *p {
		if !strings.EqualFold(rule.Method, method) {
			continue
		}
		if strings.Contains(reqURL, rule.URL) || strings.Contains(rule.URL, reqURL) {
			return rule, true
		}
	}
	return SessionRule{}, false
}

// Synthesize builds the (status, headers, body) triple for a matched
// rule, per the session rule response-synthesis rules.
func Synthesize(rule SessionRule) (status int, headers map[string]string, body []byte) {
	status = rule.Response.Status
	if status == 0 {
		status = 200
	}

	headers = make(map[string]string, len(rule.Response.Headers)+2)
	hasContentType := false
	for k, v := range rule.Response.Headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		if strings.EqualFold(k, "Content-Type") {
			hasContentType = true
		}
		headers[k] = v
	}
	if !hasContentType {
		headers["Content-Type"] = "application/json"
	}
	headers[SessionMarkerHeader] = "true"

	switch data := rule.Response.Data.(type) {
	case nil:
		body = nil
	case string:
		body = []byte(data)
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			body = []byte(fmt.Sprintf("%v", data))
		} else {
			body = encoded
		}
	}
	return status, headers, body
}
