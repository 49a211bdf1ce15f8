package host

// Names under which the host callbacks are registered.
const (
	SymbolPrintReg      = "print_reg"
	SymbolPrintStr      = "print_str"
	SymbolMessageLength = "message_length"
	SymbolRunCommand    = "run_command"
)
