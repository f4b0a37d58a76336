// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package command

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// SYNTAX ERRORS
// =============================================================================

// SyntaxError is a lexing or shape-validation failure. The message embeds the
// expected form and is shown to the user verbatim.
type SyntaxError struct {
	Message string
}

func (e *SyntaxError) Error() string {
	return e.Message
}

func syntaxErrorf(msg string) error {
	return &SyntaxError{Message: msg}
}

// Fixed diagnostic strings, part of the console interface.
const (
	msgEmptyCommand     = "Empty command"
	msgUnknownCommand   = "Unknown command"
	msgHatchFormat      = "Invalid HATCH command format. Expected: HATCH NEW CHICK 'username'@'host' RECOGNITION 'auth_type'"
	msgHatchSyntax      = "Invalid HATCH command syntax"
	msgUserHostFormat   = "Invalid username@host format. Expected: 'username'@'host'"
	msgRecognition      = "Invalid HATCH command syntax: Expected RECOGNITION keyword"
	msgAuthTypeFormat   = "Invalid auth_type format. Expected: 'auth_type'"
	msgAuthTypeValue    = "Invalid authentication type. Expected: password, auth_key, or 2fa"
	msgDropFormat       = "Invalid DROP command format. Expected: DROP CHICK 'username' ['reason']"
	msgDropSyntax       = "Invalid DROP command syntax"
	msgGrantFormat      = "Invalid GRANT command format. Expected: GRANT CHICK username PERMISSION permission_type TO nest DURATION duration"
	msgGrantSyntax      = "Invalid GRANT command syntax"
	msgRevokeFormat     = "Invalid REVOKE command format. Expected: REVOKE PERMISSION permission_type FROM 'username' DURATION duration"
	msgRevokeSyntax     = "Invalid REVOKE command syntax"
	msgCreateRoleFormat = "Invalid CREATE ROLE command format. Expected: CREATE ROLE 'role_name' hierarchy_number"
	msgInitDebugFormat  = "Invalid INIT DEBUG command format. Expected: INIT DEBUG USER [timeLength]"
	msgCreateBranch     = "Invalid CREATE BRANCH command format. Expected: CREATE BRANCH 'branch_name' IN 'parent_path'"
	msgMoveBranch       = "Invalid MOVE BRANCH command format. Expected: MOVE BRANCH 'branch_path' TO 'new_parent_path'"
	msgDuration         = "Invalid duration format. Expected a number."
)

// =============================================================================
// BRANCH COMMAND PATTERNS
// =============================================================================

// Branch commands carry slash paths that the positional token grammar handles
// poorly, so they match against the whole line instead.
var (
	createBranchRe = regexp.MustCompile(`(?i)^\s*CREATE\s+BRANCH\s+'([^']+)'\s+IN\s+'([^']*)'\s*$`)
	moveBranchRe   = regexp.MustCompile(`(?i)^\s*MOVE\s+BRANCH\s+'([^']+)'\s+TO\s+'([^']*)'\s*$`)
	branchPrefixRe = regexp.MustCompile(`(?i)^\s*(CREATE|MOVE)\s+BRANCH\b`)
)

// =============================================================================
// PARSE
// =============================================================================

// Parse turns a raw console line into a typed request or a *SyntaxError.
func Parse(line string) (Request, error) {
	if strings.TrimSpace(line) == "" {
		return nil, syntaxErrorf(msgEmptyCommand)
	}

	// Branch commands are matched against the whole line before tokenising.
	if branchPrefixRe.MatchString(line) {
		return parseBranch(line)
	}

	tokens := Tokenize(line)
	if len(tokens) == 0 {
		return nil, syntaxErrorf(msgEmptyCommand)
	}

	switch strings.ToUpper(tokens[0]) {
	case "HATCH":
		return parseHatch(tokens)
	case "DROP":
		return parseDrop(tokens)
	case "GRANT":
		return parseGrant(tokens)
	case "REVOKE":
		return parseRevoke(tokens)
	case "CREATE":
		return parseCreateRole(tokens)
	case "INIT":
		return parseInitDebug(tokens)
	default:
		return nil, syntaxErrorf(msgUnknownCommand)
	}
}

// Tokenize splits a line on whitespace outside single quotes. A quote toggles
// the in-quotes state and is kept as part of the token; the per-command
// validators strip the outer quotes.
func Tokenize(line string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\'':
			inQuotes = !inQuotes
			current.WriteByte(c)
		case (c == ' ' || c == '\t') && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// =============================================================================
// PER-COMMAND VALIDATORS
// =============================================================================

func parseHatch(tokens []string) (Request, error) {
	if len(tokens) != 6 {
		return nil, syntaxErrorf(msgHatchFormat)
	}
	if !keyword(tokens[1], "NEW") || !keyword(tokens[2], "CHICK") {
		return nil, syntaxErrorf(msgHatchSyntax)
	}

	username, host, ok := splitUserHost(tokens[3])
	if !ok {
		return nil, syntaxErrorf(msgUserHostFormat)
	}
	if !keyword(tokens[4], "RECOGNITION") {
		return nil, syntaxErrorf(msgRecognition)
	}
	if !quoted(tokens[5]) {
		return nil, syntaxErrorf(msgAuthTypeFormat)
	}

	authType := AuthType(strings.ToLower(unquote(tokens[5])))
	switch authType {
	case AuthPassword, AuthKey, AuthTwoFactor:
	default:
		return nil, syntaxErrorf(msgAuthTypeValue)
	}

	return Hatch{Username: username, Host: host, AuthType: authType}, nil
}

// splitUserHost splits a 'username'@'host' token into its two parts.
func splitUserHost(token string) (username, host string, ok bool) {
	sep := strings.Index(token, "'@'")
	if sep < 0 || !strings.HasPrefix(token, "'") || !strings.HasSuffix(token, "'") {
		return "", "", false
	}
	username = token[1:sep]
	host = token[sep+3 : len(token)-1]
	if username == "" || host == "" {
		return "", "", false
	}
	return username, host, true
}

func parseDrop(tokens []string) (Request, error) {
	if len(tokens) < 3 {
		return nil, syntaxErrorf(msgDropFormat)
	}
	if !keyword(tokens[1], "CHICK") {
		return nil, syntaxErrorf(msgDropSyntax)
	}

	reason := ""
	if len(tokens) > 3 {
		reason = unquote(strings.Join(tokens[3:], " "))
	}
	return Drop{Username: unquote(tokens[2]), Reason: reason}, nil
}

func parseGrant(tokens []string) (Request, error) {
	if len(tokens) < 9 {
		return nil, syntaxErrorf(msgGrantFormat)
	}
	if !keyword(tokens[1], "CHICK") || !keyword(tokens[3], "PERMISSION") ||
		!keyword(tokens[5], "TO") || !keyword(tokens[7], "DURATION") {
		return nil, syntaxErrorf(msgGrantSyntax)
	}

	duration, err := parseDuration(tokens[8])
	if err != nil {
		return nil, err
	}
	return Grant{
		Username:        unquote(tokens[2]),
		Permission:      unquote(tokens[4]),
		TargetNest:      unquote(tokens[6]),
		DurationSeconds: duration,
	}, nil
}

func parseRevoke(tokens []string) (Request, error) {
	if len(tokens) < 7 {
		return nil, syntaxErrorf(msgRevokeFormat)
	}
	if !keyword(tokens[1], "PERMISSION") || !keyword(tokens[3], "FROM") ||
		!keyword(tokens[5], "DURATION") {
		return nil, syntaxErrorf(msgRevokeSyntax)
	}

	duration, err := parseDuration(tokens[6])
	if err != nil {
		return nil, err
	}
	return Revoke{
		Permission:      unquote(tokens[2]),
		Username:        unquote(tokens[4]),
		DurationSeconds: duration,
	}, nil
}

func parseCreateRole(tokens []string) (Request, error) {
	if len(tokens) < 4 || !keyword(tokens[1], "ROLE") {
		return nil, syntaxErrorf(msgCreateRoleFormat)
	}

	hierarchy, err := strconv.Atoi(tokens[3])
	if err != nil {
		return nil, syntaxErrorf(msgCreateRoleFormat)
	}
	return CreateRole{Name: unquote(tokens[2]), Hierarchy: hierarchy}, nil
}

func parseInitDebug(tokens []string) (Request, error) {
	if len(tokens) < 3 || !keyword(tokens[1], "DEBUG") || !keyword(tokens[2], "USER") {
		return nil, syntaxErrorf(msgInitDebugFormat)
	}

	seconds := 60
	if len(tokens) > 3 {
		n, err := strconv.Atoi(tokens[3])
		if err != nil {
			return nil, syntaxErrorf(msgInitDebugFormat)
		}
		seconds = n
	}
	return InitDebug{Seconds: seconds}, nil
}

func parseBranch(line string) (Request, error) {
	if m := createBranchRe.FindStringSubmatch(line); m != nil {
		return CreateBranch{Name: m[1], ParentPath: m[2]}, nil
	}
	if m := moveBranchRe.FindStringSubmatch(line); m != nil {
		return MoveBranch{Path: m[1], NewParentPath: m[2]}, nil
	}
	if m := branchPrefixRe.FindStringSubmatch(line); m != nil && strings.EqualFold(m[1], "MOVE") {
		return nil, syntaxErrorf(msgMoveBranch)
	}
	return nil, syntaxErrorf(msgCreateBranch)
}

// =============================================================================
// TOKEN HELPERS
// =============================================================================

func keyword(token, want string) bool {
	return strings.EqualFold(token, want)
}

func quoted(token string) bool {
	return len(token) >= 2 && strings.HasPrefix(token, "'") && strings.HasSuffix(token, "'")
}

func unquote(token string) string {
	return strings.ReplaceAll(token, "'", "")
}

func parseDuration(token string) (int, error) {
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, syntaxErrorf(msgDuration)
	}
	return n, nil
}
