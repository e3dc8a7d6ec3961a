package language

type pythonAdapter struct{}

func (pythonAdapter) Language() Language { return Python }
func (pythonAdapter) Image() string      { return "fundi-python:latest" }

func (pythonAdapter) Prepare(dir, source string) (*Unit, error) {
	const name = "main.py"
	if err := writeSource(dir, name, source); err != nil {
		return nil, err
	}
	return &Unit{Language: Python, Dir: dir, File: name}, nil
}

func (pythonAdapter) CompileCommand(u *Unit) []string { return nil }

func (pythonAdapter) RunCommand(u *Unit) []string {
	return []string{"python3", u.File}
}
