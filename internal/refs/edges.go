package refs

// EdgeKind names one of the graph's maps.
type EdgeKind string

const (
	EdgeBody           EdgeKind = "body"
	EdgeSignature      EdgeKind = "signature"
	EdgeOverridden     EdgeKind = "overridden"
	EdgeFunctionReturn EdgeKind = "return"
	EdgeFileBody       EdgeKind = "file_body"
	EdgeFileSignature  EdgeKind = "file_signature"
	EdgePropertyWrite  EdgeKind = "property_write"
	EdgePropertyRead   EdgeKind = "property_read"
)

// Edge is a single flattened reference, used to persist a graph.
type Edge struct {
	Kind     EdgeKind
	From     Source
	To       SymbolID
	FromKind FunctionKind
	ToKind   FunctionKind
}

// Edges calls fn for every edge in r. Order is unspecified.
func (r *References) Edges(fn func(Edge)) {
	for from, tos := range r.body {
		for to := range tos {
			fn(Edge{Kind: EdgeBody, From: FromSymbol(from), To: to})
		}
	}
	for from, tos := range r.signature {
		for to := range tos {
			fn(Edge{Kind: EdgeSignature, From: FromSymbol(from), To: to})
		}
	}
	for from, tos := range r.overridden {
		for to := range tos {
			fn(Edge{Kind: EdgeOverridden, From: FromSymbol(from), To: to})
		}
	}
	for from, tos := range r.returns {
		for to := range tos {
			fn(Edge{
				Kind:     EdgeFunctionReturn,
				From:     FromSymbol(from.SymbolID()),
				To:       to.SymbolID(),
				FromKind: from.Kind,
				ToKind:   to.Kind,
			})
		}
	}
	for file, tos := range r.fileBody {
		for to := range tos {
			fn(Edge{Kind: EdgeFileBody, From: FromFile(file), To: to})
		}
	}
	for file, tos := range r.fileSignature {
		for to := range tos {
			fn(Edge{Kind: EdgeFileSignature, From: FromFile(file), To: to})
		}
	}
	for src, tos := range r.propWrites {
		for to := range tos {
			fn(Edge{Kind: EdgePropertyWrite, From: src, To: to})
		}
	}
	for src, tos := range r.propReads {
		for to := range tos {
			fn(Edge{Kind: EdgePropertyRead, From: src, To: to})
		}
	}
}

// AddEdge inserts a single persisted edge verbatim, without the implied
// container edges the Add* methods produce. Unknown kinds are ignored.
func (r *References) AddEdge(e Edge) {
	switch e.Kind {
	case EdgeBody:
		r.addEdge(e.From.Symbol, e.To, false)
	case EdgeSignature:
		r.addEdge(e.From.Symbol, e.To, true)
	case EdgeOverridden:
		r.AddReferenceToOverriddenMember(e.From.Symbol, e.To)
	case EdgeFunctionReturn:
		r.AddReferenceToFunctionLikeReturn(
			FunctionLikeID{Kind: e.FromKind, Symbol: e.From.Symbol.Symbol, Member: e.From.Symbol.Member},
			FunctionLikeID{Kind: e.ToKind, Symbol: e.To.Symbol, Member: e.To.Member},
		)
	case EdgeFileBody:
		r.addFileEdge(e.From.File, e.To, false)
	case EdgeFileSignature:
		r.addFileEdge(e.From.File, e.To, true)
	case EdgePropertyWrite:
		addTo(r.propWrites, e.From, e.To)
	case EdgePropertyRead:
		addTo(r.propReads, e.From, e.To)
	}
}
