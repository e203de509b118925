package data

import (
	"html/template"
	"net/http"
	"strings"
	"sync"
)

type Listing struct {
	Id       string
	Title    string
	Price    string
	Featured bool
}

var resultsPage = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html lang="de">
<body>
<ul id="srchrslt-adtable" class="itemlist">
{{- range .}}
  <li class="ad-listitem{{if .Featured}} badge-topad is-topad{{end}}">
    <article class="aditem" data-adid="{{.Id}}" data-href="/s-anzeige/{{.Id}}">
      <div class="aditem-main">
        <div class="aditem-main--top">
          <div class="aditem-main--top--left">10115 Mitte</div>
          <div class="aditem-main--top--right">Heute, 09:00</div>
        </div>
        <div class="aditem-main--middle">
          <h2><a class="ellipsis" href="/s-anzeige/{{.Id}}">{{.Title}}</a></h2>
          <div class="aditem-main--middle--price-shipping">
            <p class="aditem-main--middle--price-shipping--price">{{.Price}}</p>
          </div>
        </div>
      </div>
    </article>
  </li>
{{- end}}
</ul>
</body>
</html>
`))

// Site serves result pages whose listings can be changed while it is running.
type Site struct {
	lock  *sync.Mutex
	pages map[string][]Listing
	hits  map[string]int
}

func NewSite() *Site {
	return &Site{lock: &sync.Mutex{}, pages: make(map[string][]Listing), hits: make(map[string]int)}
}

// Publish puts listings on top of the page at path, newest first.
func (s *Site) Publish(path string, listings ...Listing) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pages[path] = append(append([]Listing{}, listings...), s.pages[path]...)
}

func (s *Site) Hits(path string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.hits[path]
}

func (s *Site) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/")
	s.lock.Lock()
	listings, ok := s.pages[path]
	s.hits[path]++
	s.lock.Unlock()
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	resultsPage.Execute(w, listings)
}
