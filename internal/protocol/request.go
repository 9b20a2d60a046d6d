package protocol

import "strings"

// Delimiter separates the command token and its arguments on a request line.
const Delimiter = "|||"

// Commands understood by the dispatcher.
const (
	CommandEval     = "eval"
	CommandGetNames = "get_names"
)

// Request is one parsed request line.
type Request struct {
	Command string
	Args    []string
}

// ParseRequest splits a line on Delimiter. Surrounding whitespace is trimmed
// from the command and from each argument; whitespace inside an argument is
// kept, since arguments carry formula text and JSON.
func ParseRequest(line string) Request {
	parts := strings.Split(line, Delimiter)
	req := Request{Command: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		req.Args = make([]string, len(parts)-1)
		for i, p := range parts[1:] {
			req.Args[i] = strings.TrimSpace(p)
		}
	}
	return req
}

// String renders the request back into wire form.
func (r Request) String() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + Delimiter + " " + strings.Join(r.Args, " "+Delimiter+" ")
}
