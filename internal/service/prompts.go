package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"cms-assistant-go/internal/model"
)

const bodyExcerptRunes = 2000

// pagePromptParams 是页面生成器两个阶段共用的提示词参数。
type pagePromptParams struct {
	ContentTypeName  string
	EditorMode       EditorMode
	PublishedPages   []model.Content
	CustomFields     []model.CustomField
	CatalogueSummary string
	ImageURLs        []string
	ReadyMarker      string
}

func gatheringPrompt(p pagePromptParams) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a content strategist helping an editor plan a new %s for their website.\n", p.ContentTypeName)
	sb.WriteString("Ask focused questions, one or two at a time, about the page's purpose, audience, sections, tone and any images the editor has uploaded. ")
	sb.WriteString("Do not write the page yet.\n\n")

	writePublishedPages(&sb, p.PublishedPages)
	writeCustomFields(&sb, p.CustomFields)
	if p.EditorMode == EditorElements {
		sb.WriteString("The page will be assembled from these reusable blocks. Plan the page in terms of them:\n")
		sb.WriteString(p.CatalogueSummary)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "When you have enough information to write the complete page, give a short recap and end your reply with this exact line on its own:\n%s\n", p.ReadyMarker)
	sb.WriteString("Never output that line before you have enough information.")
	return sb.String()
}

func generationPrompt(p pagePromptParams) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are writing the final %s based on the conversation so far.\n\n", p.ContentTypeName)

	sb.WriteString("Images available in this conversation. Reference images only by these exact URLs and never invent image URLs:\n")
	if len(p.ImageURLs) == 0 {
		sb.WriteString("(none, do not include any images)\n")
	}
	for i, u := range p.ImageURLs {
		fmt.Fprintf(&sb, "Image %d: %s\n", i+1, u)
	}
	sb.WriteString("\n")
	writeCustomFields(&sb, p.CustomFields)

	sb.WriteString("Reply with a single JSON object only. No prose, no explanations, no code fences.\n")
	if p.EditorMode == EditorElements {
		sb.WriteString("Build the page from the reusable blocks below. Use block identifiers exactly as listed and only the slot paths listed for each block as override keys:\n")
		sb.WriteString(p.CatalogueSummary)
		sb.WriteString("\n\nJSON shape:\n")
		sb.WriteString(`{"title": "...", "slug": "optional-slug", "elements": [{"element": "<identifier>", "overrides": {"<slot path>": "value"}}], "body": "optional html fallback", "custom_fields": {}}`)
	} else {
		sb.WriteString("The body is semantic HTML for the page content (sections, headings, paragraphs, images), without <html>, <head> or <body> tags.\n")
		sb.WriteString("JSON shape:\n")
		sb.WriteString(`{"title": "...", "slug": "optional-slug", "body": "<section>...</section>", "custom_fields": {}}`)
	}
	return sb.String()
}

func contentAssistantPrompt(content *model.Content) string {
	var sb strings.Builder
	sb.WriteString("You are a writing assistant inside a content management system. ")
	sb.WriteString("Help the editor improve, rewrite, extend or proofread their content. Answer concisely and return HTML when you propose body changes.\n")
	if content == nil {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nThe editor is working on this content item:\nTitle: %s\nSlug: %s\nStatus: %s\n", content.Title, content.Slug, content.Status)
	if body := strings.TrimSpace(content.Body); body != "" {
		fmt.Fprintf(&sb, "Body (excerpt):\n%s\n", excerpt(body, bodyExcerptRunes))
	}
	return sb.String()
}

func elementAssistantPrompt(element *model.Element, currentHTML, currentCSS, catalogueSummary string) string {
	var sb strings.Builder
	sb.WriteString("You are a front-end assistant helping an editor build reusable UI blocks (elements) for a website. ")
	sb.WriteString("Propose complete HTML and CSS in fenced code blocks when you change the element. Keep markup accessible and class names consistent.\n")
	if element != nil {
		fmt.Fprintf(&sb, "\nElement being edited: %s (%s)\n", element.Name, element.Slug)
	}
	html, css := currentHTML, currentCSS
	if html == "" && element != nil {
		html = element.HTML
	}
	if css == "" && element != nil {
		css = element.CSS
	}
	if html != "" {
		fmt.Fprintf(&sb, "\nCurrent HTML:\n%s\n", html)
	}
	if css != "" {
		fmt.Fprintf(&sb, "\nCurrent CSS:\n%s\n", css)
	}
	if catalogueSummary != "" {
		sb.WriteString("\nExisting elements and components (reuse their conventions, do not duplicate them):\n")
		sb.WriteString(catalogueSummary)
		sb.WriteString("\n")
	}
	return sb.String()
}

func compactionPrompt() string {
	return "You summarize a conversation between an editor and an AI assistant so it can continue without the full transcript. " +
		"Keep every decision, requirement, fact, name, URL and open question. Drop pleasantries. " +
		"Write a compact bullet list in the language the editor used."
}

func writePublishedPages(sb *strings.Builder, pages []model.Content) {
	if len(pages) == 0 {
		sb.WriteString("The site has no published pages yet.\n\n")
		return
	}
	sb.WriteString("Existing published pages (avoid duplicating them, link to them where relevant):\n")
	for _, p := range pages {
		fmt.Fprintf(sb, "- %s (/%s)\n", p.Title, p.Slug)
	}
	sb.WriteString("\n")
}

func writeCustomFields(sb *strings.Builder, fields []model.CustomField) {
	if len(fields) == 0 {
		return
	}
	sb.WriteString("This content type has custom fields. Collect values for them and return them under custom_fields:\n")
	for _, f := range fields {
		label := f.Label
		if label == "" {
			label = f.Name
		}
		line := fmt.Sprintf("- %s (key: %s, type: %s", label, f.Name, f.Type)
		if f.Required {
			line += ", required"
		}
		if len(f.Options) > 0 {
			line += ", one of: " + strings.Join(f.Options, ", ")
		}
		sb.WriteString(line + ")\n")
	}
	sb.WriteString("\n")
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
