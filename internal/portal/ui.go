package portal

import "net/http"

// builtinPage serves a self-contained portal page for deployments that ship
// no UI directory.
func (s *Server) builtinPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(builtinHTML))
}

const builtinHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>WiFi Setup</title>
<style>
body { font-family: sans-serif; max-width: 28em; margin: 2em auto; padding: 0 1em; }
select, input, button { width: 100%; padding: .6em; margin: .4em 0; box-sizing: border-box; }
button { background: #2266cc; color: #fff; border: 0; cursor: pointer; }
#status { margin-top: 1em; min-height: 1.5em; }
.err { color: #b00020; }
.ok { color: #1b7f37; }
</style>
</head>
<body>
<h1>WiFi Setup</h1>
<p>Select a network and enter its passphrase to connect this device.</p>
<select id="ssid"></select>
<input id="identity" placeholder="Username (enterprise networks only)" style="display:none">
<input id="pass" type="password" placeholder="Passphrase">
<button id="go">Connect</button>
<button id="rescan" style="background:#888">Rescan</button>
<div id="status"></div>
<script>
var sel = document.getElementById('ssid');
var nets = [];
function load(cache) {
  fetch('/list-networks' + (cache ? '?use_cache=true' : ''))
    .then(function (r) { return r.json(); })
    .then(function (d) {
      nets = d.networks || [];
      sel.innerHTML = '';
      nets.forEach(function (n) {
        var o = document.createElement('option');
        o.value = n.ssid;
        o.textContent = n.ssid + ' (' + n.signal_strength + '%, ' + n.security + ')';
        sel.appendChild(o);
      });
      update();
    });
}
function update() {
  var n = nets.find(function (x) { return x.ssid === sel.value; });
  document.getElementById('identity').style.display =
    (n && n.security === 'enterprise') ? 'block' : 'none';
  document.getElementById('pass').style.display =
    (n && n.security === 'none') ? 'none' : 'block';
}
sel.onchange = update;
document.getElementById('rescan').onclick = function () { load(false); };
document.getElementById('go').onclick = function () {
  var st = document.getElementById('status');
  st.className = '';
  st.textContent = 'Connecting, the hotspot will drop while the attempt runs...';
  fetch('/connect', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({
      ssid: sel.value,
      identity: document.getElementById('identity').value,
      passphrase: document.getElementById('pass').value
    })
  }).then(function (r) { return r.json(); }).then(function (d) {
    st.className = d.success ? 'ok' : 'err';
    st.textContent = d.message || (d.success ? 'Connected.' : 'Connection failed.');
  }).catch(function () {
    st.className = 'err';
    st.textContent = 'No response. If the connection succeeded this hotspot is gone.';
  });
};
load(true);
</script>
</body>
</html>
`
