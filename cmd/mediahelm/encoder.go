package main

import "strings"

// ============================================================================
// Command Encoder
// ============================================================================
// Scripts are sent to the host as a single shell command. The script body is
// untrusted text (it embeds nothing user-supplied today, but platform tables
// are data and the encoder must not depend on that). The command passes
// through exactly two shell parses: the remote login shell parses the
// double-quoted /bin/bash argument, and the inner bash feeds the heredoc to
// osascript. Four metacharacters are backslash-escaped for the first parse
// (backslash first; escaping it later would corrupt the escapes already
// inserted for the other three), and the heredoc delimiter is quoted so the
// second parse performs no expansion at all.
// ============================================================================

// escapeReplacer neutralizes shell metacharacters. Order matters: `\\` first.
var escapeReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// EscapeForShell prefixes each of `\`, `"`, `$` and backtick with a backslash
// so the text survives a double-quoted shell context and an unquoted heredoc
// as literal characters.
func EscapeForShell(text string) string {
	return escapeReplacer.Replace(text)
}

// WrapForExecution embeds a script body into a transport-safe command:
// an osascript heredoc, invoked through /bin/bash so the remote user's login
// shell doesn't change quoting rules, with the body inside an AppleScript
// try block that returns the error text as output. Script faults therefore
// come back as inspectable stdout instead of failing the channel.
//
// The delimiter is quoted ('EOF'): the outer double-quoted parse collapses
// the body's escapes back to the original text, and the quoted delimiter
// stops the inner bash from substituting anything in it, so osascript
// receives the body byte for byte.
func WrapForExecution(scriptBody string) string {
	var b strings.Builder
	b.WriteString(`/bin/bash -c "osascript <<'EOF'` + "\n")
	b.WriteString("try\n")
	b.WriteString(EscapeForShell(scriptBody))
	b.WriteString("\non error errMsg\n")
	b.WriteString("return errMsg\n")
	b.WriteString("end try\n")
	b.WriteString("EOF\"")
	return b.String()
}

// Passthrough returns the script body unmodified. It exists for a persistent
// interactive interpreter session where the caller delimits output itself.
// It performs no escaping and must never be fed to the one-shot executor.
func Passthrough(scriptBody string) string {
	return scriptBody
}
