package domain

// CommandSpec is a ready-to-run external command. Construction and argument
// validation happen in the command builder; the runner executes the argv
// verbatim.
type CommandSpec struct {
	Argv []string
	Dir  string
}
