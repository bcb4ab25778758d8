// Package scraper 负责抓取网页并抽取文章标题与正文文本。
package scraper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"research-companion-go/internal/config"
	"research-companion-go/pkg/log"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// minContentLength 低于该长度的正文视为抽取失败（导航页、付费墙等）。
const minContentLength = 100

// ErrExtract 表示无法从目标 URL 抽取出可用的文章内容。
var ErrExtract = errors.New("could not extract article content")

// Result 是一次抓取的产物。HTML 保留原始响应体，用于对象存储快照。
type Result struct {
	Title   string
	URL     string
	Content string
	HTML    string
}

// Client 是文章抓取客户端。
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient 创建一个新的抓取客户端实例。
func NewClient(cfg config.ScraperConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  ua,
	}
}

// Extract 抓取 rawURL 并抽取文章标题与正文。
func (c *Client) Extract(ctx context.Context, rawURL string) (*Result, error) {
	if !isValidURL(rawURL) {
		return nil, fmt.Errorf("%w: invalid url %q", ErrExtract, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("[Scraper] 抓取失败, url: %s, error: %v", rawURL, err)
		return nil, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s for %s", ErrExtract, resp.Status, rawURL)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 最多读取 10MB
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrExtract, err)
	}

	htmlContent := string(bodyBytes)
	title, content := Parse(htmlContent)
	if len(content) < minContentLength {
		return nil, fmt.Errorf("%w: content too short (%d chars) for %s", ErrExtract, len(content), rawURL)
	}

	log.Infof("[Scraper] 抓取成功, url: %s, title: '%s', content_len: %d", rawURL, title, len(content))
	return &Result{Title: title, URL: rawURL, Content: content, HTML: htmlContent}, nil
}

// Parse 从 HTML 中抽取标题与正文纯文本。
func Parse(htmlContent string) (title, content string) {
	title = extractTitle(htmlContent)
	content = cleanText(stripHTML(htmlContent))
	return title, content
}

// 预编译的 HTML 解析正则。
var (
	titleTag     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	h1Tag        = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	scriptTag    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag     = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag  = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag      = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag       = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	navTag       = regexp.MustCompile(`(?is)<(nav|header|footer|aside|form)[^>]*>.*?</(nav|header|footer|aside|form)>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockClose   = regexp.MustCompile(`(?i)</(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	brTag        = regexp.MustCompile(`(?i)<br\s*/?>`)
	allTags      = regexp.MustCompile(`<[^>]+>`)
	multiSpaces  = regexp.MustCompile(`[ \t]+`)
	multiDots    = regexp.MustCompile(`\.{4,}`)
)

// extractTitle 依次尝试 <h1> 与 <title>，都取不到时返回 "Untitled"。
func extractTitle(htmlContent string) string {
	for _, re := range []*regexp.Regexp{h1Tag, titleTag} {
		if matches := re.FindStringSubmatch(htmlContent); len(matches) > 1 {
			t := strings.TrimSpace(html.UnescapeString(allTags.ReplaceAllString(matches[1], "")))
			// 过短的标题通常是站点 logo 或导航残留
			if len(t) > 5 {
				return t
			}
		}
	}
	return "Untitled"
}

// stripHTML 去除脚本、样式与页面骨架元素后，把剩余标签替换为空白。
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = navTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	// 块级元素的边界换成换行，保留段落结构供 chunker 回扫
	content = blockClose.ReplaceAllString(content, "\n\n")
	content = brTag.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, " ")

	return html.UnescapeString(content)
}

// cleanText 归一化空白并压缩重复标点。
func cleanText(text string) string {
	text = multiSpaces.ReplaceAllString(text, " ")
	text = multiDots.ReplaceAllString(text, "...")

	lines := strings.Split(text, "\n")
	var kept []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			// 连续空行压缩为一个段落分隔
			if !blank && len(kept) > 0 {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
