package synthesis

import "fmt"

const InsufficientInformation = "Insufficient information in the provided documents to answer the query."

const persona = `You are an expert specialist in industrial process engineering, with deep knowledge across industries such as Feed Milling, Food & Beverage, Pharmaceuticals, Water Treatment, and General Manufacturing. Your role is to provide accurate, detailed, and contextually relevant answers.`

// Template is the declarative description of one grounding mode: what the
// model is told, what it must return, and which answer fields are fixed
// regardless of model output.
type Template struct {
	Mode         Mode
	Instructions []string
	// Schema is the JSON shape shown to the model.
	Schema             string
	ForceEmptyInternal bool
	ForceEmptyExternal bool
	ForceZeroGrounding bool
	UsedExternal       bool
}

var templates = map[Mode]Template{
	ModeStrict: {
		Mode: ModeStrict,
		Instructions: []string{
			"You MUST answer EXCLUSIVELY using the Retrieved Documents. Do not use any other knowledge.",
			`If the documents do not contain enough information to answer the question, set "answer" to exactly: "` + InsufficientInformation + `"`,
			`List in "used_chunk_ids" the ids of the documents your answer relies on.`,
			"Always respond ONLY with a single JSON object in the format below, with no surrounding text.",
		},
		Schema: `{
  "answer": "main answer",
  "internal_source": "source of the answer from the Retrieved Documents, e.g. 'Source: Pelleting_SOP.pdf - Section: 3'",
  "external_source": "",
  "document_grounding_percent": "estimated percent of the answer based on the Retrieved Documents, e.g. 93",
  "used_external_knowledge": "false",
  "following_up": ["suggested follow-up question 1", "suggested follow-up question 2"],
  "used_chunk_ids": ["id of each document used"]
}`,
		ForceEmptyExternal: true,
		UsedExternal:       false,
	},
	ModeHybrid: {
		Mode: ModeHybrid,
		Instructions: []string{
			"First use the Retrieved Documents to answer the question. Where they do not contain the answer, use your own engineering knowledge to fill the gaps.",
			`Cite document sources in "internal_source" and knowledge sources in "external_source". Populate both whenever both were used.`,
			`List in "used_chunk_ids" the ids of the documents your answer relies on.`,
			"Always respond ONLY with a single JSON object in the format below, with no surrounding text.",
		},
		Schema: `{
  "answer": "main answer",
  "internal_source": "source of the answer from the Retrieved Documents, e.g. 'Source: Pelleting_SOP.pdf - Section: 3'",
  "external_source": "source of the answer from pretrained knowledge, e.g. 'External: FMT Journal 2022'",
  "document_grounding_percent": "estimated percent of the answer based on the Retrieved Documents, 0 if none",
  "used_external_knowledge": "true",
  "following_up": ["suggested follow-up question 1", "suggested follow-up question 2"],
  "used_chunk_ids": ["id of each document used"]
}`,
		UsedExternal: true,
	},
	ModeNarrative: {
		Mode: ModeNarrative,
		Instructions: []string{
			"The Retrieved Documents are summaries of plant sensor readings, operator annotations and alarm rules.",
			"Write a warm, engaging narrative that explains what the readings show, grounded in the numbers given. Mention ranges, trends and any annotated events or rules that apply.",
			"Do not invent readings that are not in the Retrieved Documents.",
			"Always respond ONLY with a single JSON object in the format below, with no surrounding text.",
		},
		Schema: `{
  "answer": "narrative answer",
  "internal_source": "",
  "external_source": "",
  "document_grounding_percent": "0",
  "used_external_knowledge": "false",
  "following_up": ["suggested follow-up question 1", "suggested follow-up question 2"]
}`,
		ForceEmptyInternal: true,
		ForceEmptyExternal: true,
		ForceZeroGrounding: true,
		UsedExternal:       false,
	},
}

func TemplateFor(m Mode) (Template, error) {
	t, ok := templates[m]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnsupportedMode, m)
	}
	return t, nil
}
