package prshare

import (
	"html/template"
	"io"
)

// Message is a chat line relayed from an endpoint to the operator panels.
// Address is the endpoint as the relay saw it.
type Message struct {
	Address string `json:"address"`
	Text    string `json:"text"`
}

// messagePage is shown on the endpoint by the message launcher. Replies are
// posted back to the relay, which fans them out to subscribed panels.
var messagePage = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Message</title>
<hta:application id="message" border="dialog" innerborder="no" scroll="no" sysmenu="yes" />
<style>
body { font-family: sans-serif; margin: 1em; }
#text { font-size: 1.3em; margin-bottom: 1em; white-space: pre-wrap; }
textarea { width: 100%; height: 5em; }
</style>
</head>
<body>
<div id="text">{{.Text}}</div>
<form id="reply">
<textarea id="answer" placeholder="Reply"></textarea>
<button type="submit">Send</button>
</form>
<script>
document.getElementById('reply').onsubmit = function () {
    var xhr = new XMLHttpRequest();
    xhr.open('POST', 'http://{{.Host}}/message', true);
    xhr.send(document.getElementById('answer').value);
    document.getElementById('answer').value = '';
    return false;
};
</script>
</body>
</html>
`))

type messagePageData struct {
	Text string
	Host string
}

// RenderMessagePage writes the message page for text. host is the relay's
// host:port that replies are posted to.
func RenderMessagePage(w io.Writer, text, host string) error {
	return messagePage.Execute(w, &messagePageData{Text: text, Host: host})
}
