package language

type csharpAdapter struct{}

func (csharpAdapter) Language() Language { return CSharp }
func (csharpAdapter) Image() string      { return "fundi-mono:latest" }

func (csharpAdapter) Prepare(dir, source string) (*Unit, error) {
	const name = "Main.cs"
	if err := writeSource(dir, name, source); err != nil {
		return nil, err
	}
	return &Unit{Language: CSharp, Dir: dir, File: name, Main: "main.exe"}, nil
}

func (csharpAdapter) CompileCommand(u *Unit) []string {
	return []string{"mcs", "-out:" + u.Main, u.File}
}

func (csharpAdapter) RunCommand(u *Unit) []string {
	return []string{"mono", u.Main}
}
