// Package frontmatter splits and edits the YAML frontmatter block of a
// Markdown note. Edits operate on yaml.Node trees so that keys the tool does
// not own keep their order, formatting, and comments.
package frontmatter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// Split separates a leading YAML frontmatter block from the note body.
// The block is returned without its delimiters. When the note has no
// frontmatter, block is empty and body is the whole content.
func Split(content string) (block, body string, found bool) {
	if !strings.HasPrefix(content, delimiter+"\n") {
		return "", content, false
	}

	rest := content[len(delimiter)+1:]
	from := 0
	for {
		idx := strings.Index(rest[from:], "\n"+delimiter)
		if idx < 0 {
			// No closing delimiter, treat everything as body.
			return "", content, false
		}
		idx += from
		end := idx + 1 + len(delimiter)
		// The closing delimiter must occupy a whole line.
		if end == len(rest) || rest[end] == '\n' {
			block = rest[:idx]
			body = strings.TrimPrefix(rest[end:], "\n")
			return block, body, true
		}
		from = idx + 1
	}
}

// Block is an editable frontmatter mapping.
type Block struct {
	mapping *yaml.Node
}

// Parse splits content and parses the frontmatter block into an editable
// Block. Notes without frontmatter (or with a malformed block) yield an empty
// Block; a malformed block is reported through err but the body is still
// usable.
func Parse(content string) (*Block, string, error) {
	raw, body, found := Split(content)
	b := &Block{mapping: newMapping()}
	if !found || strings.TrimSpace(raw) == "" {
		return b, body, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return b, body, fmt.Errorf("malformed frontmatter: %w", err)
	}
	if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		b.mapping = doc.Content[0]
	}
	return b, body, nil
}

// Get returns the scalar value of a key.
func (b *Block) Get(key string) (string, bool) {
	if v := b.valueNode(key); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value, true
	}
	return "", false
}

// GetBool returns the boolean value of a key. Missing or non-boolean values
// report found=false.
func (b *Block) GetBool(key string) (value, found bool) {
	raw, ok := b.Get(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(raw) {
	case "true", "yes", "on":
		return true, true
	case "false", "no", "off":
		return false, true
	}
	return false, false
}

// Set stores a scalar string value under key, replacing any existing value.
func (b *Block) Set(key, value string) {
	b.setNode(key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}

// SetBool stores a boolean value under key.
func (b *Block) SetBool(key string, value bool) {
	b.setNode(key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", value)})
}

// Remove deletes a key. Returns true if the key was present.
func (b *Block) Remove(key string) bool {
	c := b.mapping.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == key {
			b.mapping.Content = append(c[:i], c[i+2:]...)
			return true
		}
	}
	return false
}

// Len returns the number of keys in the block.
func (b *Block) Len() int {
	return len(b.mapping.Content) / 2
}

// Render reassembles the full note content from the block and body. An empty
// block renders as the bare body with no delimiters.
func (b *Block) Render(body string) (string, error) {
	if b.Len() == 0 {
		return body, nil
	}

	out, err := yaml.Marshal(b.mapping)
	if err != nil {
		return "", fmt.Errorf("marshal frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(delimiter)
	sb.WriteString("\n")
	sb.Write(out)
	sb.WriteString(delimiter)
	sb.WriteString("\n")
	sb.WriteString(body)
	return sb.String(), nil
}

func (b *Block) valueNode(key string) *yaml.Node {
	c := b.mapping.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == key {
			return c[i+1]
		}
	}
	return nil
}

func (b *Block) setNode(key string, value *yaml.Node) {
	c := b.mapping.Content
	for i := 0; i+1 < len(c); i += 2 {
		if c[i].Value == key {
			c[i+1] = value
			return
		}
	}
	b.mapping.Content = append(c,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}
