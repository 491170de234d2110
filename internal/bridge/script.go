package bridge

// ExtractorScript runs in the sign-in page after every load-finish.
// If the Clerk client reports an active session it resolves a token
// and hands it over the binding as a typed message. The window flag
// makes re-evaluation on the same page a no-op; the controller
// deduplicates again on its side, so the flag is a courtesy, not the
// invariant. Every path is wrapped: nothing may throw into the page.
//
// The binding name in here must stay in sync with BindingName.
const ExtractorScript = `() => {
	try {
		if (window.__ledgerviewHandedOff) {
			return;
		}
		if (!window.Clerk || !window.Clerk.session) {
			return;
		}
		window.Clerk.session.getToken().then(function (token) {
			if (!token || window.__ledgerviewHandedOff) {
				return;
			}
			window.__ledgerviewHandedOff = true;
			if (typeof window.ledgerviewHost === "function") {
				window.ledgerviewHost(JSON.stringify({ kind: "token", value: token }));
			}
		}).catch(function () {});
	} catch (e) {
		// Swallowed: the page must render as if we were never here.
	}
}`
