package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>PPE Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #111; color: #eee; font-family: sans-serif; }
        .app { display: grid; grid-template-columns: 1fr 320px; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1e; border-radius: 8px; padding: 12px; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #3a3a3c; }
        .badge.connected { background: #34c759; color: #000; }
        .badge.reconnecting { background: #ff9500; color: #000; }
        .badge.disconnected { background: #ff3b30; }
        img { width: 100%; background: #000; }
        li.missing { color: #ff3b30; }
        li.present { color: #34c759; }
        button { margin-top: 8px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="panel">
            <h2>Live Overlay <span class="badge" id="conn-badge">connecting</span></h2>
            <img id="overlay" src="/stream" alt="overlay stream">
        </div>
        <div>
            <div class="panel">
                <h3>Status</h3>
                <div>Health: <span id="health">-</span></div>
                <div>Frame: <span id="frame">-</span></div>
                <div>FPS: <span id="fps">0.0</span></div>
                <div>Detections: <span id="total">0</span> (active <span id="active">0</span>)</div>
                <div>Retries: <span id="retries">0</span></div>
                <button type="button" id="reconnect">Reconnect</button>
            </div>
            <div class="panel">
                <h3>PPE</h3>
                <ul id="ppe"></ul>
            </div>
            <div class="panel">
                <h3>Violations</h3>
                <ul id="violations"></ul>
            </div>
        </div>
    </div>
    <script>
        const $ = (id) => document.getElementById(id);

        function renderStatus(s) {
            const badge = $('conn-badge');
            badge.textContent = s.connection.state;
            badge.className = 'badge ' + s.connection.state;
            $('health').textContent = s.health.status;
            $('frame').textContent = s.frameWidth + 'x' + s.frameHeight;
            $('fps').textContent = s.fps.toFixed(1);
            $('total').textContent = s.totalDetections;
            $('active').textContent = s.activeCount;
            $('retries').textContent = s.connection.retries;

            const ppe = $('ppe');
            ppe.innerHTML = '';
            Object.keys(s.ppe).sort().forEach((part) => {
                const li = document.createElement('li');
                const st = s.ppe[part];
                li.className = st.present ? 'present' : 'missing';
                li.textContent = part + (st.present ? ' ' + (st.confidence * 100).toFixed(1) + '%' : '');
                ppe.appendChild(li);
            });

            const list = $('violations');
            list.innerHTML = '';
            (s.violations || []).forEach((v) => {
                const li = document.createElement('li');
                li.textContent = v.timestamp + ' ' + v.entity.personId + ' missing ' +
                    v.entity.missing.join(', ') + ' @ ' + v.entity.location;
                list.appendChild(li);
            });
        }

        const events = new EventSource('/api/status/stream');
        events.onmessage = (e) => renderStatus(JSON.parse(e.data));

        $('reconnect').addEventListener('click', () => {
            fetch('/api/reconnect', { method: 'POST' });
        });
    </script>
</body>
</html>
`
