// Package catalog declares the fixed set of rental tools the gateway exposes
// and the backend binding behind each one. Adding a tool is a data change:
// an argument struct, a descriptor, and a binding row.
package catalog

import (
	"net/http"

	"github.com/palmarentals/mcp-gateway/mcp"
)

// Binding ties a tool to exactly one backend operation. Path may contain
// `{placeholders}` that are expanded from same-named arguments; remaining
// arguments travel as query string (GET) or JSON body (POST).
type Binding struct {
	Path     string
	Method   string
	Defaults map[string]any
}

// Entry pairs an MCP tool descriptor with its backend binding.
type Entry struct {
	Tool    mcp.Tool
	Binding Binding
}

// Catalog is an immutable, ordered set of tool entries. It is created once at
// process start and shared by every transport.
type Catalog struct {
	entries []Entry
	byName  map[string]Entry
}

// Argument structs double as the source of truth for the reflected parameter
// schemas. Required-ness follows the json tags: fields without omitempty are
// required.

type availabilityArgs struct {
	FechaLlegada string `json:"fecha_llegada" jsonschema:"description=Fecha de llegada en formato YYYY-MM-DD"`
	FechaSalida  string `json:"fecha_salida" jsonschema:"description=Fecha de salida en formato YYYY-MM-DD"`
	Municipio    string `json:"municipio,omitempty" jsonschema:"description=Municipio de La Palma para filtrar la búsqueda"`
	Personas     int    `json:"personas,omitempty" jsonschema:"description=Número de huéspedes"`
}

type priceArgs struct {
	PropiedadID  string `json:"propiedad_id" jsonschema:"description=Identificador de la propiedad"`
	FechaLlegada string `json:"fecha_llegada" jsonschema:"description=Fecha de llegada en formato YYYY-MM-DD"`
	FechaSalida  string `json:"fecha_salida" jsonschema:"description=Fecha de salida en formato YYYY-MM-DD"`
	Personas     int    `json:"personas,omitempty" jsonschema:"description=Número de huéspedes"`
}

type listPropertiesArgs struct {
	Municipio       string `json:"municipio,omitempty" jsonschema:"description=Municipio de La Palma para filtrar el listado"`
	CapacidadMinima int    `json:"capacidad_minima,omitempty" jsonschema:"description=Capacidad mínima de huéspedes"`
}

type propertyDetailArgs struct {
	ID     string `json:"id" jsonschema:"description=Identificador de la propiedad"`
	Idioma string `json:"idioma,omitempty" jsonschema:"description=Código de idioma para las descripciones (por defecto es)"`
}

type listMunicipalitiesArgs struct{}

type listServicesArgs struct {
	Idioma string `json:"idioma,omitempty" jsonschema:"description=Código de idioma para los nombres de servicios (por defecto es)"`
}

// New builds the rental tool catalog. Order is part of the contract: the
// tools/list result preserves it verbatim.
func New() *Catalog {
	entries := []Entry{
		{
			Tool: mcp.Tool{
				Name:        "buscar_disponibilidad",
				Description: "Busca propiedades disponibles en La Palma para un rango de fechas",
				InputSchema: reflectInputSchema[availabilityArgs](),
			},
			Binding: Binding{Path: "/api/disponibilidad", Method: http.MethodPost},
		},
		{
			Tool: mcp.Tool{
				Name:        "calcular_precio",
				Description: "Calcula el precio total de una estancia en una propiedad",
				InputSchema: reflectInputSchema[priceArgs](),
			},
			Binding: Binding{Path: "/api/precio", Method: http.MethodPost},
		},
		{
			Tool: mcp.Tool{
				Name:        "listar_propiedades",
				Description: "Lista las propiedades de alquiler vacacional registradas",
				InputSchema: reflectInputSchema[listPropertiesArgs](),
			},
			Binding: Binding{Path: "/api/propiedades", Method: http.MethodGet},
		},
		{
			Tool: mcp.Tool{
				Name:        "detalle_propiedad",
				Description: "Obtiene la ficha completa de una propiedad por su identificador",
				InputSchema: reflectInputSchema[propertyDetailArgs](),
			},
			Binding: Binding{
				Path:     "/api/propiedad/{id}",
				Method:   http.MethodGet,
				Defaults: map[string]any{"idioma": "es"},
			},
		},
		{
			Tool: mcp.Tool{
				Name:        "listar_municipios",
				Description: "Lista los municipios de La Palma con propiedades disponibles",
				InputSchema: reflectInputSchema[listMunicipalitiesArgs](),
			},
			Binding: Binding{Path: "/api/municipios", Method: http.MethodGet},
		},
		{
			Tool: mcp.Tool{
				Name:        "listar_servicios",
				Description: "Lista los servicios y equipamientos disponibles en las propiedades",
				InputSchema: reflectInputSchema[listServicesArgs](),
			},
			Binding: Binding{
				Path:     "/api/servicios",
				Method:   http.MethodGet,
				Defaults: map[string]any{"idioma": "es"},
			},
		},
	}

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Tool.Name] = e
	}
	return &Catalog{entries: entries, byName: byName}
}

// Tools returns the ordered tool descriptors.
func (c *Catalog) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(c.entries))
	for _, e := range c.entries {
		tools = append(tools, e.Tool)
	}
	return tools
}

// Names returns the ordered tool names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.Tool.Name)
	}
	return names
}

// Lookup resolves a tool entry by name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// Len reports the number of tools in the catalog.
func (c *Catalog) Len() int {
	return len(c.entries)
}
