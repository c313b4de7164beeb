package loader

import (
	"strings"

	"mapleportal/internal/model"
)

// categoryContentTypes maps fragments of a category directory name onto the
// document content types.
var categoryContentTypes = []struct {
	fragments   []string
	contentType string
}{
	{[]string{"guide", "가이드", "tip", "공략"}, model.ContentTypeGuide},
	{[]string{"notice", "공지", "event", "이벤트", "update", "업데이트", "news"}, model.ContentTypeNotice},
	{[]string{"item", "아이템", "equip", "장비"}, model.ContentTypeItem},
	{[]string{"quest", "퀘스트"}, model.ContentTypeQuest},
	{[]string{"skill", "스킬", "job", "직업"}, model.ContentTypeSkill},
}

func contentTypeFor(category string) string {
	lower := strings.ToLower(category)
	for _, m := range categoryContentTypes {
		for _, f := range m.fragments {
			if strings.Contains(lower, f) {
				return m.contentType
			}
		}
	}
	return model.ContentTypeOther
}

// titleFor prefers a top-level title or name field over the file stem.
func titleFor(v any, stem string) string {
	if obj, ok := v.(object); ok {
		for _, key := range []string{"title", "name", "제목"} {
			if raw, ok := obj.get(key); ok {
				if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return stem
}

// linkFor prefers an exact link, url or href field and only then falls back
// to a *_url field. Image, icon and banner urls never count as the link.
func linkFor(v any) string {
	obj, ok := v.(object)
	if !ok {
		return ""
	}
	for _, key := range []string{"link", "url", "href"} {
		for _, f := range obj {
			if strings.ToLower(f.Key) != key {
				continue
			}
			if s := httpURL(f.Value); s != "" {
				return s
			}
		}
	}
	for _, f := range obj {
		lower := strings.ToLower(f.Key)
		if !strings.HasSuffix(lower, "_url") || isAssetKey(lower) {
			continue
		}
		if s := httpURL(f.Value); s != "" {
			return s
		}
	}
	return ""
}

func isAssetKey(key string) bool {
	return strings.Contains(key, "_image") || strings.Contains(key, "_icon") ||
		strings.Contains(key, "banner")
}

func httpURL(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return ""
}
