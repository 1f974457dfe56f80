package feeds

import (
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

var imgSrc = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)

// imageURL picks a representative image for item. Sources are tried in
// order: media:content images, image enclosures, media:thumbnail, the item
// image, then the first <img> in the content or description.
func imageURL(item *gofeed.Item) string {
	media := item.Extensions["media"]
	for _, c := range mediaElements(media, "content") {
		if c.Attrs["medium"] == "image" || strings.Contains(c.Attrs["type"], "image") {
			if u := c.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.Contains(enc.Type, "image") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, t := range mediaElements(media, "thumbnail") {
		if u := t.Attrs["url"]; u != "" {
			return u
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if m := imgSrc.FindStringSubmatch(item.Content + " " + item.Description); m != nil {
		return m[1]
	}
	return ""
}

// mediaElements returns media elements named name, including those nested
// in a media:group.
func mediaElements(media map[string][]ext.Extension, name string) []ext.Extension {
	out := append([]ext.Extension{}, media[name]...)
	for _, g := range media["group"] {
		out = append(out, g.Children[name]...)
	}
	return out
}
