package exec

import (
	"codesync/internal/models"
)

// Toolchain names the host binaries used by the local backend.
type Toolchain struct {
	Node   string `yaml:"node"`
	Python string `yaml:"python"`
	GCC    string `yaml:"gcc"`
	GPP    string `yaml:"gpp"`
	Javac  string `yaml:"javac"`
	Java   string `yaml:"java"`
	Go     string `yaml:"go"`
}

func DefaultToolchain() Toolchain {
	return Toolchain{
		Node:   "node",
		Python: "python3",
		GCC:    "gcc",
		GPP:    "g++",
		Javac:  "javac",
		Java:   "java",
		Go:     "go",
	}
}

// WithDefaults fills empty entries from DefaultToolchain.
func (t Toolchain) WithDefaults() Toolchain {
	d := DefaultToolchain()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.Node, d.Node)
	fill(&t.Python, d.Python)
	fill(&t.GCC, d.GCC)
	fill(&t.GPP, d.GPP)
	fill(&t.Javac, d.Javac)
	fill(&t.Java, d.Java)
	fill(&t.Go, d.Go)
	return t
}

// containerPlan is how a language runs inside a throwaway container.
type containerPlan struct {
	image    string
	fileName string
	compile  []string
	run      []string
}

type languageDef struct {
	meta      models.LanguageSpec
	container containerPlan
}

var languages = []languageDef{
	{
		meta: models.LanguageSpec{
			Name:            models.LangJavaScript,
			FileName:        "main.js",
			ExampleTemplate: "console.log(\"Hello from JavaScript!\");\n",
		},
		container: containerPlan{image: "node:20-alpine", fileName: "main.js", run: []string{"node", "main.js"}},
	},
	{
		meta: models.LanguageSpec{
			Name:            models.LangPython,
			FileName:        "main.py",
			ExampleTemplate: "print(\"Hello from Python!\")\n",
		},
		container: containerPlan{image: "python:3.11-slim", fileName: "main.py", run: []string{"python3", "main.py"}},
	},
	{
		meta: models.LanguageSpec{
			Name:            models.LangC,
			FileName:        "main.c",
			Compiled:        true,
			ExampleTemplate: "#include <stdio.h>\n\nint main(void) {\n    printf(\"Hello from C!\\n\");\n    return 0;\n}\n",
		},
		container: containerPlan{
			image: "gcc:13", fileName: "main.c",
			compile: []string{"gcc", "main.c", "-o", "main"}, run: []string{"./main"},
		},
	},
	{
		meta: models.LanguageSpec{
			Name:            models.LangCPP,
			FileName:        "main.cpp",
			Compiled:        true,
			ExampleTemplate: "#include <iostream>\n\nint main() {\n    std::cout << \"Hello from C++!\" << std::endl;\n    return 0;\n}\n",
		},
		container: containerPlan{
			image: "gcc:13", fileName: "main.cpp",
			compile: []string{"g++", "main.cpp", "-o", "main"}, run: []string{"./main"},
		},
	},
	{
		meta: models.LanguageSpec{
			Name:            models.LangJava,
			FileName:        "Main.java",
			Compiled:        true,
			ExampleTemplate: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello from Java!\");\n    }\n}\n",
		},
		container: containerPlan{
			image: "eclipse-temurin:17-jdk", fileName: "Main.java",
			compile: []string{"javac", "Main.java"}, run: []string{"java", "-cp", ".", "Main"},
		},
	},
	{
		meta: models.LanguageSpec{
			Name:            models.LangGo,
			FileName:        "main.go",
			ExampleTemplate: "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello from Go!\")\n}\n",
		},
		container: containerPlan{image: "golang:1.22-alpine", fileName: "main.go", run: []string{"go", "run", "main.go"}},
	},
}

func lookupLanguage(lang models.Language) (languageDef, bool) {
	for _, l := range languages {
		if l.meta.Name == lang {
			return l, true
		}
	}
	return languageDef{}, false
}

// Languages lists every supported language.
func Languages() []models.LanguageSpec {
	out := make([]models.LanguageSpec, 0, len(languages))
	for _, l := range languages {
		out = append(out, l.meta)
	}
	return out
}

// interpreted languages join stderr to stdout with a newline separator
func interpreted(lang models.Language) bool {
	return lang == models.LangJavaScript || lang == models.LangPython
}
