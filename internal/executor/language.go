package executor

// Language describes how to build and run a submission.
type Language struct {
	ID      string `toml:"id" json:"id"`
	Name    string `toml:"name" json:"name"`
	FileExt string `toml:"file_ext" json:"file_ext"`

	CompileCmd    *string `toml:"compile_cmd" json:"compile_cmd,omitempty"`
	CompiledFname *string `toml:"compiled_fname" json:"compiled_fname,omitempty"`

	ExecCmd string `toml:"exec_cmd" json:"exec_cmd"`

	// HelloCode prints "hello world". The health check runs it.
	HelloCode string `toml:"hello_code" json:"-"`
}

func (l Language) SourceFname() string {
	return "main" + l.FileExt
}
