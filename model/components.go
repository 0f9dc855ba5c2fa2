package model

// Param is a function or signature parameter. Borrowed parameters are
// returned to the caller untouched; consumed ones are moved into the callee.
type Param struct {
	Consume bool
	Type    TypeRef
}

// DataComponent declares an algebraic data type.
type DataComponent struct {
	Header Header
	// Ctors lists each constructor's field types.
	Ctors [][]TypeRef
}

// SigComponent declares a signature, the type of closures.
type SigComponent struct {
	Header  Header
	Params  []Param
	Returns []TypeRef
}

// FunctionComponent declares a function with a body.
type FunctionComponent struct {
	Header  Header
	Params  []Param
	Returns []TypeRef
	Body    Block
}

// ImplComponent implements a signature. Its parameters are the captures
// followed by the signature's own parameters.
type ImplComponent struct {
	Header   Header
	Sig      TypeRef
	Captures []TypeRef
	Body     Block
}

func (e *encoder) params(ps []Param) {
	e.len8(len(ps))
	for _, p := range ps {
		e.flag(p.Consume)
		e.u8(uint8(p.Type))
	}
}

func (d *decoder) params() []Param {
	n := d.len8()
	if d.err != nil || n == 0 {
		return nil
	}
	ps := make([]Param, n)
	for i := range ps {
		ps[i].Consume = d.flag()
		ps[i].Type = TypeRef(d.u8())
	}
	return ps
}

func (e *encoder) data(c *DataComponent) {
	e.header(KindData, &c.Header)
	e.len8(len(c.Ctors))
	for _, fields := range c.Ctors {
		e.typeRefs(fields)
	}
}

func (d *decoder) data() DataComponent {
	c := DataComponent{Header: d.header(KindData)}
	if n := d.len8(); n > 0 && d.err == nil {
		c.Ctors = make([][]TypeRef, n)
		for i := range c.Ctors {
			c.Ctors[i] = d.typeRefs()
		}
	}
	return c
}

func (e *encoder) sig(c *SigComponent) {
	e.header(KindSig, &c.Header)
	e.params(c.Params)
	e.typeRefs(c.Returns)
}

func (d *decoder) sig() SigComponent {
	c := SigComponent{Header: d.header(KindSig)}
	c.Params = d.params()
	c.Returns = d.typeRefs()
	return c
}

func (e *encoder) function(c *FunctionComponent) {
	e.header(KindFunction, &c.Header)
	e.params(c.Params)
	e.typeRefs(c.Returns)
	e.block(&c.Body)
}

func (d *decoder) function() FunctionComponent {
	c := FunctionComponent{Header: d.header(KindFunction)}
	c.Params = d.params()
	c.Returns = d.typeRefs()
	c.Body = d.block()
	return c
}

func (e *encoder) impl(c *ImplComponent) {
	e.header(KindImplement, &c.Header)
	e.u8(uint8(c.Sig))
	e.typeRefs(c.Captures)
	e.block(&c.Body)
}

func (d *decoder) impl() ImplComponent {
	c := ImplComponent{Header: d.header(KindImplement)}
	c.Sig = TypeRef(d.u8())
	c.Captures = d.typeRefs()
	c.Body = d.block()
	return c
}
