package models

const (
	ContextSeparator = "\n---\n"

	// IndexFileSuffix and ManifestFileSuffix are appended to the configured index path.
	IndexFileSuffix           = ".chromem"
	CompressedIndexFileSuffix = ".chromem.gz"
	ManifestFileSuffix        = ".manifest.yaml"

	MetadataPath = "path"
	MetadataType = "type"

	DefaultQuestion = "Como a API de autenticação é implementada?"
	MissingAnswer   = "Resposta não encontrada."
	UnknownPath     = "Caminho desconhecido"
)

var (
	// PromptTemplate is rendered by langchaingo's Go template formatter with
	// the "context" and "question" input variables.
	PromptTemplate = `Você é um assistente de programação que responde perguntas sobre código-fonte.

Contexto: {{.context}}
Pergunta: {{.question}}
Resposta:
`
	PromptInputVariables = []string{"context", "question"}
)
