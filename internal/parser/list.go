package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/and161185/racknerd-exporter/model"
)

const (
	vmTableID     = "vmlist"
	minVMListCols = 4
	vmIDParam     = "_v"
)

var vmIDPattern = regexp.MustCompile(`[?&]_v=([^&#]+)`)

// ParseVMList extracts the VMs from the client area home page. Rows that do not look like
// a VM (no control link, too few cells) are skipped.
func ParseVMList(raw []byte) ([]model.VMIdentity, error) {
	if IsLoginPage(raw) {
		return nil, ErrLoginRequired
	}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fieldErr("vmlist", "", err)
	}

	table := findElement(doc, func(n *html.Node) bool {
		return n.Data == "table" && attr(n.Attr, "id") == vmTableID
	})
	if table == nil {
		return nil, fieldErr("vmlist", "", ErrNoVMTable)
	}

	vms := make([]model.VMIdentity, 0)
	for _, row := range findAll(table, func(n *html.Node) bool { return n.Data == "tr" }) {
		vm, ok := parseVMRow(row)
		if ok {
			vms = append(vms, vm)
		}
	}
	return vms, nil
}

func parseVMRow(row *html.Node) (model.VMIdentity, bool) {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	if len(cells) < minVMListCols {
		return model.VMIdentity{}, false
	}

	link := findElement(cells[1], func(n *html.Node) bool { return n.Data == "a" })
	if link == nil {
		return model.VMIdentity{}, false
	}
	id := vmIDFromHref(attr(link.Attr, "href"))
	if id == "" {
		return model.VMIdentity{}, false
	}

	hostname := text(link)
	if hostname == "" {
		hostname = id
	}

	return model.VMIdentity{
		ID:        id,
		Hostname:  hostname,
		Kind:      kindFromCell(cells[0]),
		IPAddress: text(cells[2]),
		OS:        text(cells[3]),
	}, true
}

func vmIDFromHref(href string) string {
	if u, err := url.Parse(href); err == nil {
		if v := strings.TrimSpace(u.Query().Get(vmIDParam)); v != "" {
			return v
		}
	}
	if m := vmIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

// kindFromCell reads the virtualization icon. Anything that is not marked as KVM is a
// container, the panel only offers these two.
func kindFromCell(cell *html.Node) model.Kind {
	var buf bytes.Buffer
	if err := html.Render(&buf, cell); err != nil {
		return model.KindOpenVZ
	}
	if bytes.Contains(bytes.ToLower(buf.Bytes()), []byte("kvm")) {
		return model.KindKVM
	}
	return model.KindOpenVZ
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
