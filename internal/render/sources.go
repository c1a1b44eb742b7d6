package render

import "github.com/teslashibe/go-orb/internal/render/shaderwatch"

// Built-in programs, used when no shader directory is configured or a file
// fails to load.
var builtinSources = map[string]shaderwatch.Source{
	// full-screen triangle from gl_VertexID, no vertex buffer
	"backdrop": {
		Vertex: `#version 410 core
out vec2 vUV;
void main() {
	vec2 p = vec2((gl_VertexID << 1) & 2, gl_VertexID & 2);
	vUV = p;
	gl_Position = vec4(p * 2.0 - 1.0, 0.0, 1.0);
}
` + "\x00",
		Fragment: `#version 410 core
in vec2 vUV;
uniform vec2 uCursor;
uniform vec2 uResolution;
uniform float uShift;
uniform float uGlow;
uniform float uAccent;
uniform float uAccentScale;
out vec4 FragColor;

const vec3 slate  = vec3(0.059, 0.090, 0.165);
const vec3 blue   = vec3(0.118, 0.227, 0.541);
const vec3 indigo = vec3(0.192, 0.180, 0.506);

void main() {
	float aspect = uResolution.x / max(uResolution.y, 1.0);

	// diagonal gradient drifting sideways
	float d = clamp((vUV.x + (1.0 - vUV.y)) * 0.5 + (uShift - 0.5) * 0.5, 0.0, 1.0);
	vec3 color = d < 0.5 ? mix(slate, blue, d * 2.0) : mix(blue, indigo, d * 2.0 - 1.0);

	// glow under the cursor
	vec2 g = (vUV - uCursor) * vec2(aspect, 1.0);
	float glow = 1.0 - smoothstep(0.0, 0.5, length(g));
	color += vec3(0.231, 0.510, 0.965) * 0.3 * glow * uGlow;

	// accent from the centre, blue into purple
	vec2 a = (vUV - 0.5) * vec2(aspect, 1.0) / uAccentScale;
	float accent = 1.0 - smoothstep(0.0, 0.7, length(a));
	vec3 tint = mix(vec3(0.576, 0.200, 0.918), vec3(0.145, 0.388, 0.922), accent);
	color += tint * 0.2 * accent * uAccent;

	// vignette
	float v = smoothstep(0.35, 0.75, length(vUV - 0.5));
	color *= 1.0 - 0.4 * v;

	FragColor = vec4(color, 1.0);
}
` + "\x00",
	},
	"orb": {
		Vertex: `#version 410 core
layout(location = 0) in vec3 aPos;
uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;
void main() {
	gl_Position = uProjection * uView * uModel * vec4(aPos, 1.0);
}
` + "\x00",
		Fragment: `#version 410 core
uniform vec4 uColor;
out vec4 FragColor;
void main() {
	FragColor = uColor;
}
` + "\x00",
	},
	"stars": {
		Vertex: `#version 410 core
layout(location = 0) in vec3 aPos;
uniform mat4 uModel;
uniform mat4 uView;
uniform mat4 uProjection;
uniform float uPointSize;
void main() {
	gl_Position = uProjection * uView * uModel * vec4(aPos, 1.0);
	gl_PointSize = uPointSize;
}
` + "\x00",
		Fragment: `#version 410 core
uniform vec4 uColor;
out vec4 FragColor;
void main() {
	vec2 c = gl_PointCoord - vec2(0.5);
	if (dot(c, c) > 0.25) {
		discard;
	}
	FragColor = uColor;
}
` + "\x00",
	},
}
