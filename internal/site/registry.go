// Package site は連携先拠点（サイト）のレジストリを提供する。
// レジストリは起動時に設定から1回だけ構築され、以後は読み取り専用として扱う。
package site

import (
	"fmt"
	"net/url"
	"strings"
)

// allowedSchemes は拠点ベースアドレスで許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// Site は連携先拠点を表す。識別子はベースアドレス文字列そのもの。
type Site struct {
	BaseURL string
}

// String はoriginタグとして使用する拠点識別子を返す。
func (s Site) String() string {
	return s.BaseURL
}

// Registry は連携先拠点の順序付きリスト。
// 登録順はフェデレーション結果のマージ順を決定する。
type Registry struct {
	sites []Site
}

// NewRegistry は与えられた拠点からRegistryを生成する。
func NewRegistry(sites ...Site) *Registry {
	cp := make([]Site, len(sites))
	copy(cp, sites)
	return &Registry{sites: cp}
}

// ParseRegistry はカンマ区切りの拠点ベースアドレス一覧からRegistryを生成する。
// 前後の空白は除去し、空要素は無視する。重複は最初の位置を残して除去する。
// 末尾のスラッシュは正規化のため取り除く。
func ParseRegistry(raw string) (*Registry, error) {
	var sites []Site
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		base := strings.TrimRight(strings.TrimSpace(part), "/")
		if base == "" {
			continue
		}
		if err := ValidateBaseURL(base); err != nil {
			return nil, err
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		sites = append(sites, Site{BaseURL: base})
	}
	return &Registry{sites: sites}, nil
}

// ValidateBaseURL は拠点ベースアドレスの形式を静的に検証する。
// 拠点は運用者が設定するメッシュ内アドレスのため、プライベートIPは拒否しない。
func ValidateBaseURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid site URL %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme in site URL %q: %s (allowed: %v)", rawURL, scheme, allowedSchemes)
	}

	if parsed.Hostname() == "" {
		return fmt.Errorf("empty host in site URL: %s", rawURL)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("site URL must not carry a query or fragment: %s", rawURL)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

// Sites は登録順の拠点一覧のコピーを返す。
func (r *Registry) Sites() []Site {
	if r == nil {
		return nil
	}
	cp := make([]Site, len(r.sites))
	copy(cp, r.sites)
	return cp
}

// Len は登録拠点数を返す。
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sites)
}

// Contains は指定ベースアドレスが登録済みかを返す。
func (r *Registry) Contains(baseURL string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.sites {
		if s.BaseURL == baseURL {
			return true
		}
	}
	return false
}
