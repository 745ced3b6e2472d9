package extract

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

type markdownConverter struct {
	conv *converter.Converter
}

// NewHTMLConverter returns an HTMLConverter that renders HTML mail as markdown.
// Receipt tables keep their rows so amounts stay next to their labels.
func NewHTMLConverter() HTMLConverter {
	return &markdownConverter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (m *markdownConverter) ConvertString(html string) (string, error) {
	return m.conv.ConvertString(html)
}
