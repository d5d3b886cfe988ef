package api

import (
	"html/template"
	"log"
	"net/http"
	"strings"
)

// handleWatch serves a minimal playback page. Platforms with native HLS
// support (Safari, iOS) get the manifest URL directly; everything else goes
// through hls.js. The page surfaces distinct messages for unsupported
// platforms, network failures and decode failures, offers a retry for the
// latter two, and tears the engine down on unload.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	videoID := strings.TrimPrefix(r.URL.Path, "/watch/")
	if videoID == "" || strings.Contains(videoID, "/") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := watchTemplate.Execute(w, map[string]string{"VideoID": videoID}); err != nil {
		log.Printf("watch %s: render: %v", videoID, err)
	}
}

var watchTemplate = template.Must(template.New("watch").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>vodworks player</title>
<script src="https://cdn.jsdelivr.net/npm/hls.js@1"></script>
<style>
  body { margin: 0; background: #000; color: #eee; font-family: sans-serif; }
  video { width: 100%; max-height: 100vh; }
  #status { padding: 1em; text-align: center; }
  #retry { display: none; margin: 0 auto 1em; }
</style>
</head>
<body>
<video id="player" controls></video>
<div id="status"></div>
<button id="retry">Retry</button>
<script>
(function () {
  var videoId = {{.VideoID}};
  var player = document.getElementById('player');
  var status = document.getElementById('status');
  var retry = document.getElementById('retry');
  var hls = null;

  function fatal(message, retryable) {
    status.textContent = message;
    retry.style.display = retryable ? 'block' : 'none';
  }

  function teardown() {
    if (hls) {
      hls.destroy();
      hls = null;
    }
  }

  function start() {
    status.textContent = 'Loading…';
    retry.style.display = 'none';
    fetch('/videos/' + videoId + '/token')
      .then(function (res) {
        if (!res.ok) { throw new Error('token request failed'); }
        return res.json();
      })
      .then(function (tok) {
        var src = tok.manifestUrl;
        if (player.canPlayType('application/vnd.apple.mpegurl')) {
          player.src = src;
          player.addEventListener('loadedmetadata', function () { status.textContent = ''; }, { once: true });
          player.addEventListener('error', function () { fatal('Playback failed. Check your connection and retry.', true); });
          return;
        }
        if (!window.Hls || !Hls.isSupported()) {
          fatal('This browser cannot play adaptive streams.', false);
          return;
        }
        teardown();
        hls = new Hls();
        hls.loadSource(src);
        hls.attachMedia(player);
        hls.on(Hls.Events.MANIFEST_PARSED, function () { status.textContent = ''; });
        hls.on(Hls.Events.ERROR, function (_evt, data) {
          if (!data.fatal) { return; }
          if (data.type === Hls.ErrorTypes.NETWORK_ERROR) {
            fatal('Network failure while streaming. Retry when back online.', true);
          } else if (data.type === Hls.ErrorTypes.MEDIA_ERROR) {
            fatal('The stream could not be decoded.', true);
          } else {
            fatal('Playback failed.', true);
          }
          teardown();
        });
      })
      .catch(function () {
        fatal('Network failure while streaming. Retry when back online.', true);
      });
  }

  retry.addEventListener('click', start);
  window.addEventListener('beforeunload', teardown);
  start();
})();
</script>
</body>
</html>
`))
