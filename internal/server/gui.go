package server

import (
	"html"
	"strings"
)

// renderGUIHTML returns the embedded single-page dev console. It is an
// API-first shell without external assets so it works behind any deployment.
func renderGUIHTML(appVersion string) string {
	return strings.ReplaceAll(guiHTMLTemplate, "__APP_VERSION__", html.EscapeString(appVersion))
}

const guiHTMLTemplate = `<!doctype html>
<html lang="de">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>geo-ranking.ch GUI</title>
    <style>
      :root {
        color-scheme: light;
        --bg: #f6f8fb;
        --surface: #ffffff;
        --ink: #1b2637;
        --muted: #5a6474;
        --border: #d5dbea;
        --primary: #1957d2;
        --danger: #b93a2f;
        --success: #1f8a3b;
      }
      * { box-sizing: border-box; }
      body {
        margin: 0;
        font-family: Inter, system-ui, -apple-system, Segoe UI, Roboto, sans-serif;
        background: var(--bg);
        color: var(--ink);
      }
      header {
        background: var(--surface);
        border-bottom: 1px solid var(--border);
        padding: 1rem 1.25rem;
      }
      header h1 { margin: 0; font-size: 1.05rem; }
      header p { margin: 0; color: var(--muted); font-size: 0.9rem; }
      main {
        display: grid;
        grid-template-columns: minmax(300px, 460px) minmax(360px, 1fr);
        gap: 1rem;
        padding: 1rem 1.25rem 1.5rem;
      }
      .card {
        background: var(--surface);
        border: 1px solid var(--border);
        border-radius: 0.65rem;
        padding: 0.9rem 1rem;
        margin-bottom: 1rem;
      }
      .card h2 { margin: 0 0 0.6rem; font-size: 0.95rem; }
      label { display: block; font-size: 0.86rem; margin-bottom: 0.6rem; }
      input, select {
        width: 100%;
        margin-top: 0.25rem;
        padding: 0.45rem 0.55rem;
        border: 1px solid var(--border);
        border-radius: 0.45rem;
        font-size: 0.9rem;
      }
      button {
        background: var(--primary);
        color: #fff;
        border: 0;
        border-radius: 0.5rem;
        padding: 0.5rem 0.9rem;
        font-size: 0.9rem;
        cursor: pointer;
      }
      button[disabled] { opacity: 0.6; cursor: wait; }
      .pill {
        display: inline-block;
        border: 1px solid var(--border);
        border-radius: 999px;
        font-size: 0.8rem;
        padding: 0.26rem 0.58rem;
      }
      .phase-loading { color: #8b5200; }
      .phase-success { color: var(--success); }
      .phase-error { color: var(--danger); }
      .meta { color: var(--muted); font-size: 0.84rem; }
      pre {
        margin: 0;
        white-space: pre-wrap;
        word-break: break-word;
        font-size: 0.84rem;
        max-height: 28rem;
        overflow: auto;
      }
      .error-box {
        border: 1px solid #f2c6c2;
        border-left: 4px solid var(--danger);
        background: #fff8f8;
        border-radius: 0.55rem;
        color: #7a201a;
        padding: 0.65rem 0.75rem;
      }
    </style>
  </head>
  <body>
    <header>
      <h1>geo-ranking.ch</h1>
      <p>API-first Analyze-Konsole · Version __APP_VERSION__</p>
    </header>

    <main>
      <section>
        <article class="card" id="input">
          <h2>Adresseingabe</h2>
          <form id="analyze-form">
            <label>
              Adresse
              <input id="query" name="query" type="text" placeholder="z. B. Bahnhofstrasse 1, 8001 Zürich" required />
            </label>
            <label>
              Intelligence-Mode
              <select id="intelligence-mode" name="intelligence_mode">
                <option value="basic">basic</option>
                <option value="extended">extended</option>
                <option value="risk">risk</option>
              </select>
            </label>
            <label>
              API Token (optional)
              <input id="api-token" type="password" placeholder="Bearer-Token für geschützte Deployments" autocomplete="off" />
            </label>
            <button id="submit-btn" type="submit">Analyse starten</button>
          </form>
          <p class="meta">State-Flow: <code>idle -> loading -> success/error</code>.</p>
        </article>
      </section>

      <section id="result">
        <article class="card">
          <h2>Result-Panel</h2>
          <p class="pill" id="phase-pill" data-phase="idle">Status: idle</p>
          <p class="meta" id="request-meta">Noch keine Anfrage gesendet.</p>
          <div id="error-box" class="error-box" hidden></div>
        </article>

        <article class="card">
          <h2>API-Response (JSON)</h2>
          <pre id="result-json">{
  "hint": "Sende eine Anfrage über das Formular links."
}</pre>
        </article>
      </section>
    </main>

    <script>
      const state = { phase: "idle", lastRequestId: null, lastPayload: null, lastError: null };

      const formEl = document.getElementById("analyze-form");
      const queryEl = document.getElementById("query");
      const modeEl = document.getElementById("intelligence-mode");
      const tokenEl = document.getElementById("api-token");
      const submitBtn = document.getElementById("submit-btn");
      const phasePill = document.getElementById("phase-pill");
      const requestMeta = document.getElementById("request-meta");
      const resultJson = document.getElementById("result-json");
      const errorBox = document.getElementById("error-box");

      function renderState() {
        phasePill.textContent = "Status: " + state.phase;
        phasePill.dataset.phase = state.phase;
        phasePill.classList.remove("phase-loading", "phase-success", "phase-error");
        if (state.phase !== "idle") phasePill.classList.add("phase-" + state.phase);

        if (state.lastRequestId) {
          requestMeta.textContent = "Letzte Request-ID: " + state.lastRequestId;
        } else if (state.phase === "loading") {
          requestMeta.textContent = "Anfrage läuft …";
        } else {
          requestMeta.textContent = "Noch keine Anfrage gesendet.";
        }

        errorBox.hidden = !state.lastError;
        errorBox.textContent = state.lastError || "";
        if (state.lastPayload) {
          resultJson.textContent = JSON.stringify(state.lastPayload, null, 2);
        }
      }

      async function runAnalyze(payload, token) {
        const headers = { "Content-Type": "application/json" };
        if (token) headers["Authorization"] = "Bearer " + token;

        const response = await fetch("/analyze", {
          method: "POST",
          headers,
          body: JSON.stringify(payload),
        });

        let parsed;
        try {
          parsed = await response.json();
        } catch (error) {
          throw new Error("Response ist kein gültiges JSON.");
        }

        const requestId = parsed && parsed.request_id ? String(parsed.request_id) : null;
        if (!response.ok || !parsed.ok) {
          const errCode = parsed && parsed.error ? parsed.error : "http_" + response.status;
          const errMsg = parsed && parsed.message ? parsed.message : "Unbekannter Fehler";
          return { ok: false, requestId, response: parsed, errorMessage: errCode + ": " + errMsg };
        }
        return { ok: true, requestId, response: parsed, errorMessage: null };
      }

      formEl.addEventListener("submit", async (event) => {
        event.preventDefault();

        const query = (queryEl.value || "").trim();
        if (!query) {
          state.phase = "error";
          state.lastError = "Bitte eine Adresse eingeben.";
          renderState();
          return;
        }

        const payload = {
          query,
          intelligence_mode: modeEl.value || "basic",
          options: { response_mode: "compact" },
        };

        state.phase = "loading";
        state.lastError = null;
        state.lastRequestId = null;
        submitBtn.disabled = true;
        renderState();

        try {
          const result = await runAnalyze(payload, (tokenEl.value || "").trim());
          state.lastRequestId = result.requestId;
          state.lastPayload = result.response;
          state.phase = result.ok ? "success" : "error";
          state.lastError = result.errorMessage;
        } catch (error) {
          state.phase = "error";
          state.lastError = error instanceof Error ? error.message : "Netzwerkfehler";
          state.lastPayload = { ok: false, error: "network_error", message: state.lastError };
        } finally {
          submitBtn.disabled = false;
          renderState();
        }
      });

      renderState();
    </script>
  </body>
</html>
`
