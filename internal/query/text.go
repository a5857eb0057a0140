package query

import (
	"fmt"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

func (c *compiler) compileText(st *fieldState, text any) error {
	m, _ := core.AsMap(text)
	search, ok := core.AsMap(m["$search"])
	if !ok {
		return core.NewError(core.InvalidJSON, "bad $text: $search, should be object")
	}
	term, ok := search["$term"].(string)
	if !ok || term == "" {
		return core.NewError(core.InvalidJSON, "bad $text: $term, should be string")
	}

	language := c.opts.TextSearchLanguage
	if raw, ok := search["$language"]; ok && truthy(raw) {
		lang, ok := raw.(string)
		if !ok {
			return core.NewError(core.InvalidJSON, "bad $text: $language, should be string")
		}
		language = lang
	}
	if raw, ok := search["$caseSensitive"]; ok && truthy(raw) {
		if _, ok := raw.(bool); !ok {
			return core.NewError(core.InvalidJSON, "bad $text: $caseSensitive, should be boolean")
		}
		return core.NewError(core.InvalidJSON, "bad $text: $caseSensitive not supported, please use $regex or create a separate lower case column.")
	}
	if raw, ok := search["$diacriticSensitive"]; ok && raw != nil {
		sensitive, ok := raw.(bool)
		if !ok {
			return core.NewError(core.InvalidJSON, "bad $text: $diacriticSensitive, should be boolean")
		}
		if !sensitive {
			return core.NewError(core.InvalidJSON, "bad $text: $diacriticSensitive - false not supported, install Postgres Unaccent Extension")
		}
	}

	st.add(fmt.Sprintf("to_tsvector(%s, %s) @@ to_tsquery(%s, %s)",
		c.b.Arg(language), st.ref, c.b.Arg(language), c.b.Arg(term)))
	if c.text == nil {
		c.text = &TextSearch{Field: st.field, Language: language, Term: term}
	}
	return nil
}
