package cardigann

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexhub/internal/indexer"
)

// Login methods.
const (
	loginPost   = "post"
	loginForm   = "form"
	loginCookie = "cookie"
	loginGet    = "get"
)

var errLoginRejected = errors.New("login rejected")

// session is the cookie session of one site.
type session struct {
	client    *http.Client
	jar       *cookiejar.Jar
	baseURL   *url.URL
	login     *LoginBlock
	settings  map[string]string
	engine    *TemplateEngine
	userAgent string
	logger    zerolog.Logger

	mu       sync.Mutex
	loggedIn time.Time
}

func newSession(baseURL string, login *LoginBlock, settings map[string]string, engine *TemplateEngine, transport http.RoundTripper, logger zerolog.Logger) (*session, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &session{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		jar:       jar,
		baseURL:   base,
		login:     login,
		settings:  settings,
		engine:    engine,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		logger:    logger.With().Str("component", "login").Logger(),
	}, nil
}

// resolve makes ref absolute against the site's base URL.
func (s *session) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.baseURL.ResolveReference(u).String()
}

// authenticate opens a new session. Concurrent callers share one login.
func (s *session) authenticate(ctx context.Context) error {
	if s.login == nil {
		return nil
	}
	started := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedIn.After(started) {
		return nil
	}

	tctx := NewTemplateContext()
	tctx.Config = s.settings

	var err error
	switch strings.ToLower(s.login.Method) {
	case loginPost:
		err = s.loginPost(ctx, tctx)
	case loginForm:
		err = s.loginForm(ctx, tctx)
	case loginCookie:
		err = s.loginCookie(tctx)
	case loginGet:
		err = s.loginGet(ctx, tctx)
	default:
		return fmt.Errorf("unsupported login method %q", s.login.Method)
	}
	if err != nil {
		return err
	}
	if err := s.test(ctx); err != nil {
		return err
	}

	s.loggedIn = time.Now()
	s.logger.Info().Str("method", s.login.Method).Msg("Logged in")
	return nil
}

func (s *session) inputs(tctx *TemplateContext) (url.Values, error) {
	form := url.Values{}
	for key, tmpl := range s.login.Inputs {
		v, err := s.engine.Evaluate(tmpl, tctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate login input %s: %w", key, err)
		}
		form.Set(key, v)
	}
	return form, nil
}

func (s *session) loginPost(ctx context.Context, tctx *TemplateContext) error {
	form, err := s.inputs(tctx)
	if err != nil {
		return err
	}
	return s.submit(ctx, s.resolve(s.login.Path), form, "", tctx)
}

// loginForm reads hidden inputs from the login page before posting.
func (s *session) loginForm(ctx context.Context, tctx *TemplateContext) error {
	pageURL := s.resolve(s.login.Path)
	body, _, err := s.get(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("failed to fetch login page: %w", err)
	}
	doc, err := parseHTML(body)
	if err != nil {
		return err
	}

	formSelector := s.login.Form
	if formSelector == "" {
		formSelector = "form"
	}
	formSel := doc.Find(formSelector).First()
	if formSel.Length() == 0 {
		return fmt.Errorf("login form %q not found", formSelector)
	}

	form := url.Values{}
	formSel.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
		if name, ok := in.Attr("name"); ok {
			v, _ := in.Attr("value")
			form.Set(name, v)
		}
	})
	for name, def := range s.login.SelectorInputs {
		v := selectText(doc, def.Selector, def.Attribute)
		if v, err = ApplyFilters(v, def.Filters, s.engine, tctx); err != nil {
			return err
		}
		form.Set(name, v)
	}
	static, err := s.inputs(tctx)
	if err != nil {
		return err
	}
	for k := range static {
		form.Set(k, static.Get(k))
	}

	action, _ := formSel.Attr("action")
	target := pageURL
	if action != "" {
		if u, err := url.Parse(pageURL); err == nil {
			if a, err := url.Parse(action); err == nil {
				target = u.ResolveReference(a).String()
			}
		}
	}
	return s.submit(ctx, target, form, pageURL, tctx)
}

func (s *session) loginCookie(tctx *TemplateContext) error {
	raw := s.settings["cookie"]
	if tmpl, ok := s.login.Inputs["cookie"]; ok {
		v, err := s.engine.Evaluate(tmpl, tctx)
		if err != nil {
			return fmt.Errorf("failed to evaluate cookie input: %w", err)
		}
		raw = v
	}
	cookies := parseCookieString(raw)
	if len(cookies) == 0 {
		return errors.New("no cookie configured")
	}
	s.jar.SetCookies(s.baseURL, cookies)
	return nil
}

// loginGet opens the login path with the inputs as query parameters.
func (s *session) loginGet(ctx context.Context, tctx *TemplateContext) error {
	form, err := s.inputs(tctx)
	if err != nil {
		return err
	}
	u, err := url.Parse(s.resolve(s.login.Path))
	if err != nil {
		return fmt.Errorf("invalid login path: %w", err)
	}
	q := u.Query()
	for k := range form {
		q.Set(k, form.Get(k))
	}
	u.RawQuery = q.Encode()

	body, status, err := s.get(ctx, u.String())
	if err != nil {
		return fmt.Errorf("login request failed: %w", indexer.StripURL(err))
	}
	return s.checkLoginPage(body, status)
}

func (s *session) submit(ctx context.Context, target string, form url.Values, referer string, tctx *TemplateContext) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for k, v := range s.login.Headers {
		if hv, err := s.engine.Evaluate(string(v), tctx); err == nil {
			req.Header.Set(k, hv)
		}
	}

	s.logger.Debug().Str("url", target).Msg("Submitting login")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", indexer.StripURL(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}
	return s.checkLoginPage(body, resp.StatusCode)
}

func (s *session) checkLoginPage(body []byte, status int) error {
	if status >= 400 {
		return fmt.Errorf("%w: status %d", errLoginRejected, status)
	}
	if len(s.login.Error) == 0 {
		return nil
	}
	doc, err := parseHTML(body)
	if err != nil {
		return nil
	}
	if msg, found := pageError(doc, s.login.Error); found {
		return fmt.Errorf("%w: %s", errLoginRejected, msg)
	}
	return nil
}

// test checks the session against the test path, when one is defined.
func (s *session) test(ctx context.Context) error {
	if s.login.Test.Path == "" {
		return nil
	}
	body, status, err := s.get(ctx, s.resolve(s.login.Test.Path))
	if err != nil {
		return fmt.Errorf("login test request failed: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("%w: test page returned status %d", errLoginRejected, status)
	}
	if s.login.Test.Selector == "" {
		return nil
	}
	doc, err := parseHTML(body)
	if err != nil {
		return err
	}
	if doc.Find(s.login.Test.Selector).Length() == 0 {
		return fmt.Errorf("%w: %q not found on test page", errLoginRejected, s.login.Test.Selector)
	}
	return nil
}

func (s *session) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, indexer.StripURL(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	return body, resp.StatusCode, err
}

// parseCookieString parses "name1=value1; name2=value2".
func parseCookieString(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return cookies
}
