package fetch

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/harvestnet/harvestor/internal/core/constants"
)

// playwrightDriver is the default stealthDriver: a single shared Chromium
// instance with WebRTC blocking and humanized viewport/locale, one fresh
// browser context per fetch so cookies and storage never leak across
// listings.
type playwrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

func newPlaywrightDriver() (*playwrightDriver, error) {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return nil, fmt.Errorf("install playwright browsers: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			// Disable WebRTC so the local/forward IP can't leak around the
			// rotator.
			"--force-webrtc-ip-handling-policy=disable_non_proxied_udp",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	return &playwrightDriver{pw: pw, browser: browser}, nil
}

// Render navigates to url through a fresh browser context routed via
// proxyAddr, stamping the forward-index routing header on every request the
// page makes, and waits for network-idle before returning the rendered DOM.
func (d *playwrightDriver) Render(ctx context.Context, url string, forwardIdx int, proxyAddr, userAgent string, insecure bool) ([]byte, int, error) {
	// playwright-go's synchronous API has no context parameter of its own;
	// Timeout below is this call's only cancellation knob.
	_ = ctx

	browserCtx, err := d.browser.NewContext(playwright.BrowserNewContextOptions{
		Proxy: &playwright.Proxy{
			Server: "http://" + proxyAddr,
		},
		UserAgent:         playwright.String(userAgent),
		IgnoreHttpsErrors: playwright.Bool(insecure),
		ExtraHttpHeaders: map[string]string{
			constants.ProxyForwardIndexHeader: fmt.Sprintf("%d", forwardIdx),
		},
		Locale: playwright.String("en-US"),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("new browser context: %w", err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, 0, fmt.Errorf("new page: %w", err)
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(constants.DefaultFetchTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("goto %s: %w", url, err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, 0, fmt.Errorf("read rendered content: %w", err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}
	return []byte(html), status, nil
}

func (d *playwrightDriver) Close() error {
	if d.browser != nil {
		_ = d.browser.Close()
	}
	if d.pw != nil {
		return d.pw.Stop()
	}
	return nil
}
