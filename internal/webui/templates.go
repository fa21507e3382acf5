package webui

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>ds2img</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
</style>
</head>
<body>
<h1>ds2img</h1>
<p>Output: <code>{{.Output}}</code></p>
<table>
<tr><th>#</th><th>Name</th><th>Format</th><th>Source</th></tr>
{{range $i, $p := .Partitions}}<tr><td>{{$i}}</td><td>{{$p.Name}}</td><td>{{$p.Format}}</td><td><code>{{$p.Path}}</code></td></tr>
{{end}}</table>
<form method="post" action="/api/build"><button type="submit">Build image</button></form>
{{with .LastBuild}}<h2>Last build</h2>
<p>{{.Finished}} in {{.Duration}}, {{.Size}} bytes, disk {{.DiskGUID}}</p>
<table>
<tr><th>Name</th><th>Start</th><th>Length</th><th>BLAKE3</th></tr>
{{range .Partitions}}<tr><td>{{.Name}}</td><td>{{.Start}}</td><td>{{.Length}}</td><td><code>{{.Digest}}</code></td></tr>
{{end}}</table>
<p><a href="/api/image">Download</a></p>
{{end}}</body>
</html>
`
