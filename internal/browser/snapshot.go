package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"webpilot-mcp-server/internal/facts"

	"github.com/go-rod/rod"
)

// SnapshotNode is one element in the structural page snapshot. Interactive
// elements carry a ref the agent can target; ancestors without a ref are
// kept as grouping context.
type SnapshotNode struct {
	Ref      int             `json:"ref,omitempty"`
	Role     string          `json:"role"`
	Name     string          `json:"name,omitempty"`
	Value    string          `json:"value,omitempty"`
	Visible  bool            `json:"visible"`
	Children []*SnapshotNode `json:"children,omitempty"`
}

// Snapshot is a bounded structural view of the page, filtered to interactive
// elements and the context needed to understand them.
type Snapshot struct {
	URL       string        `json:"url"`
	Title     string        `json:"title"`
	Epoch     uint64        `json:"epoch"`
	NodeCount int           `json:"node_count"`
	Truncated bool          `json:"truncated"`
	Root      *SnapshotNode `json:"root,omitempty"`
}

// rawNode mirrors the shape produced by the in-page walker.
type rawNode struct {
	Tag         string            `json:"tag"`
	Role        string            `json:"role"`
	Name        string            `json:"name"`
	Value       string            `json:"value"`
	Visible     bool              `json:"visible"`
	Interactive bool              `json:"interactive"`
	Attrs       map[string]string `json:"attrs"`
	Text        string            `json:"text"`
	Path        string            `json:"path"`
	Selector    string            `json:"selector"`
	Children    []*rawNode        `json:"children"`
}

type rawSnapshot struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Truncated bool     `json:"truncated"`
	Count     int      `json:"count"`
	Root      *rawNode `json:"root"`
}

// snapshotJS walks the DOM in document order, collecting role, accessible
// name, and identifying attributes per element. Same-origin iframes are
// walked inline; cross-origin frames become placeholder leaves. The walk
// stops adding nodes past the configured caps and reports truncation.
const snapshotJS = `
	(maxNodes, maxDepth) => {
		let count = 0;
		let truncated = false;

		const skipTags = new Set(['script', 'style', 'meta', 'link', 'noscript', 'template', 'head']);

		const implicitRoles = {
			a: 'link', button: 'button', input: 'textbox', textarea: 'textbox',
			select: 'combobox', img: 'image', nav: 'navigation', main: 'main',
			header: 'banner', footer: 'contentinfo', form: 'form', table: 'table',
			h1: 'heading', h2: 'heading', h3: 'heading', h4: 'heading',
			h5: 'heading', h6: 'heading', ul: 'list', ol: 'list', li: 'listitem',
			option: 'option', dialog: 'dialog'
		};

		const roleOf = (el) => {
			const explicit = el.getAttribute('role');
			if (explicit) return explicit;
			const tag = el.tagName.toLowerCase();
			if (tag === 'input') {
				const type = el.type || 'text';
				if (type === 'checkbox') return 'checkbox';
				if (type === 'radio') return 'radio';
				if (type === 'submit' || type === 'button') return 'button';
				if (type === 'range') return 'slider';
				return 'textbox';
			}
			return implicitRoles[tag] || 'generic';
		};

		const isInteractive = (el) => {
			const tag = el.tagName.toLowerCase();
			if (['button', 'select', 'textarea', 'option'].includes(tag)) return true;
			if (tag === 'a' && el.hasAttribute('href')) return true;
			if (tag === 'input' && el.type !== 'hidden') return true;
			if (el.contentEditable === 'true') return true;
			const role = el.getAttribute('role');
			if (['button', 'link', 'checkbox', 'radio', 'combobox', 'listbox',
			     'menuitem', 'tab', 'switch', 'slider', 'textbox', 'searchbox'].includes(role)) return true;
			if (el.hasAttribute('onclick')) return true;
			if (el.hasAttribute('tabindex') && el.getAttribute('tabindex') !== '-1') return true;
			return false;
		};

		const isVisible = (el) => {
			if (el.hasAttribute('hidden') || el.getAttribute('aria-hidden') === 'true') return false;
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 || rect.height === 0) return false;
			const style = getComputedStyle(el);
			return style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
		};

		const accName = (el) => {
			let name = el.getAttribute('aria-label') || '';
			if (!name && el.labels && el.labels.length > 0) {
				name = el.labels[0].innerText?.trim() || '';
			}
			if (!name) name = el.innerText?.trim() || '';
			if (!name) name = el.placeholder || el.title || el.alt || '';
			name = name.replace(/\s+/g, ' ').trim();
			if (name.length > 80) name = name.substring(0, 77) + '...';
			return name;
		};

		const attrsOf = (el) => {
			const attrs = {};
			for (const key of ['id', 'name', 'type', 'role', 'placeholder', 'aria-label', 'data-testid']) {
				const v = el.getAttribute(key);
				if (v) attrs[key] = v;
			}
			const href = el.getAttribute('href');
			if (href) attrs['href'] = href.substring(0, 120);
			return attrs;
		};

		const cssPath = (el, doc) => {
			const parts = [];
			let cur = el;
			while (cur && cur.nodeType === 1 && cur !== doc.documentElement) {
				let idx = 1;
				let sib = cur;
				while ((sib = sib.previousElementSibling)) idx++;
				parts.unshift(cur.tagName.toLowerCase() + ':nth-child(' + idx + ')');
				cur = cur.parentElement;
			}
			parts.unshift('html');
			return parts.join('>');
		};

		const walk = (el, depth, path, doc) => {
			const tag = el.tagName.toLowerCase();
			if (skipTags.has(tag)) return null;
			// display:none, the hidden attribute, and aria-hidden suppress
			// the whole subtree. visibility:hidden does not, since a
			// descendant can override it back to visible.
			const style = getComputedStyle(el);
			if (style.display === 'none') return null;
			if (el.hasAttribute('hidden') || el.getAttribute('aria-hidden') === 'true') return null;
			if (count >= maxNodes || depth > maxDepth) {
				truncated = true;
				return null;
			}
			count++;

			const node = {
				tag: tag,
				role: roleOf(el),
				name: accName(el),
				value: '',
				visible: isVisible(el),
				interactive: isInteractive(el),
				attrs: attrsOf(el),
				text: (el.innerText?.trim()?.substring(0, 100) || ''),
				path: path,
				selector: cssPath(el, doc),
				children: []
			};

			if (tag === 'input' || tag === 'textarea' || tag === 'select') {
				if (el.type === 'checkbox' || el.type === 'radio') {
					node.value = el.checked ? 'checked' : 'unchecked';
				} else if (el.type === 'password') {
					node.value = el.value ? '(filled)' : '';
				} else {
					node.value = (el.value || '').substring(0, 100);
				}
			}

			if (tag === 'iframe' || tag === 'frame') {
				node.role = 'iframe';
				try {
					const innerDoc = el.contentDocument;
					if (innerDoc && innerDoc.documentElement) {
						const child = walk(innerDoc.documentElement, depth + 1, path + '>' + tag, innerDoc);
						if (child) node.children.push(child);
					} else {
						node.name = node.name || '(cross-origin frame)';
					}
				} catch (e) {
					node.name = node.name || '(cross-origin frame)';
				}
				return node;
			}

			for (const childEl of el.children) {
				const child = walk(childEl, depth + 1, path ? path + '>' + tag : tag, doc);
				if (child) node.children.push(child);
			}
			return node;
		};

		const root = walk(document.documentElement, 0, '', document);
		return {
			url: window.location.href,
			title: document.title,
			truncated: truncated,
			count: count,
			root: root
		};
	}
`

// Snapshot filter modes. Interactive keeps only actionable elements and the
// context around them; full also keeps visible textual content.
const (
	FilterInteractive = "interactive"
	FilterFull        = "full"
)

// BuildSnapshot walks the live DOM, assigns or reuses refs for interactive
// elements, and returns the filtered structural tree. The registry epoch
// advances exactly once per call.
func BuildSnapshot(ctx context.Context, page *rod.Page, reg *RefRegistry, maxNodes, maxDepth int, filter string, sink FactSink) (*Snapshot, error) {
	res, err := page.Context(ctx).Eval(snapshotJS, maxNodes, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("snapshot walk: %w", err)
	}

	payload, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("snapshot payload: %w", err)
	}
	var raw rawSnapshot
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}

	epoch := reg.BeginSnapshot()
	root, kept := buildTree(raw.Root, reg, filter == FilterFull || filter == "all")
	reg.EndSnapshot()

	snap := &Snapshot{
		URL:       raw.URL,
		Title:     raw.Title,
		Epoch:     epoch,
		NodeCount: kept,
		Truncated: raw.Truncated,
		Root:      root,
	}

	if sink != nil {
		truncated := "false"
		if snap.Truncated {
			truncated = "true"
		}
		_ = sink.AddFacts(ctx, []facts.Fact{{
			Predicate: "snapshot_event",
			Args:      []interface{}{int64(epoch), int64(kept), truncated},
			Timestamp: time.Now(),
		}})
	}

	return snap, nil
}

// buildTree converts the raw walk into the filtered snapshot tree, keeping
// interactive elements (with refs), their ancestors, headings, and iframe
// placeholders. With full set, visible non-interactive content survives too.
// Hidden elements never earn a ref and are dropped unless they group visible
// descendants. Returns the converted node and the kept-node count.
func buildTree(rn *rawNode, reg *RefRegistry, full bool) (*SnapshotNode, int) {
	if rn == nil {
		return nil, 0
	}

	node := &SnapshotNode{
		Role:    rn.Role,
		Visible: rn.Visible,
	}

	count := 0
	for _, rc := range rn.Children {
		child, n := buildTree(rc, reg, full)
		if child != nil {
			node.Children = append(node.Children, child)
			count += n
		}
	}

	interesting := rn.Visible && (rn.Interactive || rn.Role == "heading" || rn.Role == "iframe")
	if full && rn.Visible && !interesting {
		interesting = rn.Name != "" || rn.Role != "generic"
	}
	if !interesting && len(node.Children) == 0 && rn.Path != "" {
		return nil, 0
	}

	node.Name = rn.Name
	if rn.Interactive && rn.Visible {
		node.Ref = reg.Observe(Locator{
			Tag:      rn.Tag,
			Attrs:    rn.Attrs,
			Text:     rn.Text,
			Path:     rn.Path,
			Selector: rn.Selector,
		})
		node.Value = rn.Value
	} else if len(node.Children) > 0 && !full {
		// Context nodes only need a name when it adds information
		// beyond what their children already say.
		node.Name = ""
		if rn.Role == "heading" || rn.Role == "navigation" || rn.Role == "form" {
			node.Name = rn.Name
		}
	}

	return node, count + 1
}

// FormatTree renders a snapshot as the indented text the agent reads.
func FormatTree(snap *Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page URL: %s\n", snap.URL)
	fmt.Fprintf(&b, "Page Title: %s\n", snap.Title)
	fmt.Fprintf(&b, "Nodes: %d\n", snap.NodeCount)
	if snap.Truncated {
		b.WriteString("Note: snapshot truncated at configured limits\n")
	}
	b.WriteString("\n")
	formatNode(&b, snap.Root, 0)
	return b.String()
}

func formatNode(b *strings.Builder, node *SnapshotNode, depth int) {
	if node == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("- ")
	b.WriteString(node.Role)
	if node.Name != "" {
		fmt.Fprintf(b, " %q", node.Name)
	}
	if node.Ref != 0 {
		fmt.Fprintf(b, " [ref=%d]", node.Ref)
	}
	if node.Value != "" {
		fmt.Fprintf(b, " value=%q", node.Value)
	}
	if !node.Visible {
		b.WriteString(" (hidden)")
	}
	b.WriteString("\n")
	for _, child := range node.Children {
		formatNode(b, child, depth+1)
	}
}

// ResolveElement locates the live DOM element for a locator. The positional
// selector from snapshot time is tried first, then stable attributes.
func ResolveElement(page *rod.Page, loc Locator) (*rod.Element, error) {
	immediate := page.Sleeper(rod.NotFoundSleeper)

	if loc.Selector != "" {
		if el, err := immediate.Element(loc.Selector); err == nil {
			if tagMatches(el, loc.Tag) {
				return el, nil
			}
		}
	}

	// The element may have moved in the tree; fall back to its stable
	// identifying attributes.
	if id := loc.Attrs["id"]; id != "" {
		if el, err := immediate.Element("#" + escapeCSSIdent(id)); err == nil && tagMatches(el, loc.Tag) {
			return el, nil
		}
	}
	if testID := loc.Attrs["data-testid"]; testID != "" {
		if el, err := immediate.Element(`[data-testid="` + escapeAttrValue(testID) + `"]`); err == nil && tagMatches(el, loc.Tag) {
			return el, nil
		}
	}
	if label := loc.Attrs["aria-label"]; label != "" {
		if el, err := immediate.Element(loc.Tag + `[aria-label="` + escapeAttrValue(label) + `"]`); err == nil {
			return el, nil
		}
	}
	if name := loc.Attrs["name"]; name != "" {
		if el, err := immediate.Element(loc.Tag + `[name="` + escapeAttrValue(name) + `"]`); err == nil {
			return el, nil
		}
	}

	return nil, fmt.Errorf("element not found for %s at %s", loc.Tag, loc.Path)
}

// tagMatches verifies a resolved element still has the expected tag.
func tagMatches(el *rod.Element, tag string) bool {
	if tag == "" {
		return true
	}
	prop, err := el.Property("tagName")
	if err != nil {
		return false
	}
	return strings.EqualFold(prop.Str(), tag)
}

// escapeAttrValue escapes characters for use in CSS attribute selectors.
func escapeAttrValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// escapeCSSIdent escapes special characters in a CSS identifier.
func escapeCSSIdent(s string) string {
	var result []rune
	for _, r := range s {
		switch r {
		case '/', '.', ':', '[', ']', '(', ')', '#', '>', '+', '~', '=', '^', '$', '*', '|', '!', '@', '%', '&', '\'', '"', '`', '{', '}', ' ':
			result = append(result, '\\', r)
		default:
			result = append(result, r)
		}
	}
	return string(result)
}
