package content

import (
	texttemplate "text/template"

	"github.com/splax/sitedeploy/internal/domain"
)

type scriptData struct {
	Label      string
	SiteID     string
	Domain     string
	ScriptName string
	Timestamp  int64
}

const scriptPreamble = `#!/usr/bin/env bash
# {{.ScriptName}} for {{.Label}}
# Generated at {{.Timestamp}}
set -euo pipefail

PROJECT_NAME="{{.SiteID}}"
DOMAIN="{{.Domain}}"
SITE_DIR="$(cd "$(dirname "${BASH_SOURCE[0]}")" && pwd)"

log() { printf '[%s] %s\n' "$(date '+%Y-%m-%d %H:%M:%S')" "$*"; }

if [[ $EUID -ne 0 ]]; then
  log "run this script with sudo"
  exit 1
fi
`

var scriptTemplates = map[domain.ServerKind]*texttemplate.Template{
	domain.ServerNginx: texttemplate.Must(texttemplate.New("deploy-nginx.sh").Parse(scriptPreamble + `
WEB_ROOT="/var/www/${PROJECT_NAME}"
CONF="/etc/nginx/sites-available/${PROJECT_NAME}"

if ! command -v nginx >/dev/null 2>&1; then
  log "installing nginx"
  apt-get update -y && apt-get install -y nginx
fi

log "copying site to ${WEB_ROOT}"
mkdir -p "${WEB_ROOT}"
cp -r "${SITE_DIR}/." "${WEB_ROOT}/"
rm -f "${WEB_ROOT}"/deploy*.sh "${WEB_ROOT}/deploy-metadata.json"
chown -R www-data:www-data "${WEB_ROOT}"

cat > "${CONF}" <<EOF
server {
    listen 80;
    server_name ${DOMAIN} www.${DOMAIN};
    root ${WEB_ROOT};
    index index.html;

    location / {
        try_files \$uri \$uri/ /index.html;
    }

    location ~* \.(css|js|png|jpg|jpeg|gif|ico|svg)$ {
        expires 30d;
        add_header Cache-Control "public, immutable";
    }

    gzip on;
    gzip_types text/css application/javascript application/json image/svg+xml;
}
EOF

ln -sf "${CONF}" "/etc/nginx/sites-enabled/${PROJECT_NAME}"
nginx -t
systemctl reload nginx
log "deployed ${PROJECT_NAME} at http://${DOMAIN}"
`)),

	domain.ServerApache: texttemplate.Must(texttemplate.New("deploy-apache.sh").Parse(scriptPreamble + `
WEB_ROOT="/var/www/${PROJECT_NAME}"
CONF="/etc/apache2/sites-available/${PROJECT_NAME}.conf"

if ! command -v apache2 >/dev/null 2>&1; then
  log "installing apache2"
  apt-get update -y && apt-get install -y apache2
fi

log "copying site to ${WEB_ROOT}"
mkdir -p "${WEB_ROOT}"
cp -r "${SITE_DIR}/." "${WEB_ROOT}/"
rm -f "${WEB_ROOT}"/deploy*.sh "${WEB_ROOT}/deploy-metadata.json"
chown -R www-data:www-data "${WEB_ROOT}"

cat > "${CONF}" <<EOF
<VirtualHost *:80>
    ServerName ${DOMAIN}
    ServerAlias www.${DOMAIN}
    DocumentRoot ${WEB_ROOT}

    <Directory ${WEB_ROOT}>
        Options -Indexes +FollowSymLinks
        AllowOverride All
        Require all granted
    </Directory>

    ErrorLog \${APACHE_LOG_DIR}/${PROJECT_NAME}-error.log
    CustomLog \${APACHE_LOG_DIR}/${PROJECT_NAME}-access.log combined
</VirtualHost>
EOF

a2enmod rewrite headers expires >/dev/null
a2ensite "${PROJECT_NAME}.conf" >/dev/null
apache2ctl configtest
systemctl reload apache2
log "deployed ${PROJECT_NAME} at http://${DOMAIN}"
`)),

	domain.ServerNode: texttemplate.Must(texttemplate.New("deploy-node.sh").Parse(scriptPreamble + `
APP_DIR="/opt/${PROJECT_NAME}"
PORT="${PORT:-3000}"

if ! command -v node >/dev/null 2>&1; then
  log "installing nodejs"
  apt-get update -y && apt-get install -y nodejs npm
fi

log "copying site to ${APP_DIR}/public"
mkdir -p "${APP_DIR}/public"
cp -r "${SITE_DIR}/." "${APP_DIR}/public/"
rm -f "${APP_DIR}"/public/deploy*.sh "${APP_DIR}/public/deploy-metadata.json"

cat > "${APP_DIR}/server.js" <<'EOF'
const http = require('http');
const fs = require('fs');
const path = require('path');

const root = path.join(__dirname, 'public');
const types = { '.html': 'text/html', '.css': 'text/css', '.js': 'application/javascript', '.json': 'application/json', '.png': 'image/png', '.jpg': 'image/jpeg', '.ico': 'image/x-icon', '.xml': 'application/xml', '.txt': 'text/plain' };

http.createServer((req, res) => {
  let file = path.join(root, decodeURIComponent(req.url.split('?')[0]));
  if (!file.startsWith(root)) { res.writeHead(403); return res.end(); }
  if (fs.existsSync(file) && fs.statSync(file).isDirectory()) file = path.join(file, 'index.html');
  fs.readFile(file, (err, data) => {
    if (err) { res.writeHead(404); return res.end('Not found'); }
    res.writeHead(200, { 'Content-Type': types[path.extname(file)] || 'application/octet-stream' });
    res.end(data);
  });
}).listen(process.env.PORT || 3000);
EOF

cat > "/etc/systemd/system/${PROJECT_NAME}.service" <<EOF
[Unit]
Description=${PROJECT_NAME} static site
After=network.target

[Service]
WorkingDirectory=${APP_DIR}
Environment=PORT=${PORT}
ExecStart=$(command -v node) ${APP_DIR}/server.js
Restart=always

[Install]
WantedBy=multi-user.target
EOF

systemctl daemon-reload
systemctl enable --now "${PROJECT_NAME}.service"
log "deployed ${PROJECT_NAME} on port ${PORT} for ${DOMAIN}"
`)),

	domain.ServerDocker: texttemplate.Must(texttemplate.New("deploy-docker.sh").Parse(scriptPreamble + `
IMAGE="${PROJECT_NAME}:latest"
PORT="${PORT:-8080}"

if ! command -v docker >/dev/null 2>&1; then
  log "docker is required"
  exit 1
fi

cat > "${SITE_DIR}/Dockerfile" <<'EOF'
FROM nginx:alpine
COPY . /usr/share/nginx/html
RUN rm -f /usr/share/nginx/html/deploy*.sh /usr/share/nginx/html/deploy-metadata.json /usr/share/nginx/html/Dockerfile
EXPOSE 80
EOF

log "building ${IMAGE}"
docker build -t "${IMAGE}" "${SITE_DIR}"
docker rm -f "${PROJECT_NAME}" >/dev/null 2>&1 || true
docker run -d --name "${PROJECT_NAME}" --restart unless-stopped -p "${PORT}:80" "${IMAGE}"
log "deployed ${PROJECT_NAME} on port ${PORT} for ${DOMAIN}"
`)),
}
